package cucumber

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSONDoc)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSONDoc)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContainText)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionFromTheResponseAs)
		ctx.Step(`^the "([^"]*)" selection from the response should match "([^"]*)"$`, s.theSelectionFromTheResponseShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionFromTheResponseShouldMatchJSON)
	})
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no request has been sent")
	}
	if expected != session.Resp.StatusCode {
		return fmt.Errorf("expected response code to be: %d, but actual is: %d, body: %s", expected, session.Resp.StatusCode, string(session.RespBytes))
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSONDoc(expected *godog.DocString) error {
	return s.JSONMustMatch(string(s.Session().RespBytes), expected.Content)
}

func (s *TestScenario) theResponseShouldContainJSONDoc(expected *godog.DocString) error {
	return s.JSONMustContain(string(s.Session().RespBytes), expected.Content)
}

func (s *TestScenario) theResponseShouldContainText(expected string) error {
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if !strings.Contains(string(s.Session().RespBytes), expanded) {
		return fmt.Errorf("response does not contain %q: %s", expanded, s.Session().RespBytes)
	}
	return nil
}

func (s *TestScenario) iStoreTheSelectionFromTheResponseAs(selector, name string) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	value, err := selectOne(selector, doc)
	if err != nil {
		return err
	}
	s.Variables[name] = value
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatch(selector, expected string) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	value, err := selectOne(selector, doc)
	if err != nil {
		return err
	}
	actual, err := ToString(value)
	if err != nil {
		return err
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual != expanded {
		return fmt.Errorf("selected JSON does not match. expected: %v, actual: %v", expanded, actual)
	}
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatchJSON(selector string, expected *godog.DocString) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	value, err := selectOne(selector, doc)
	if err != nil {
		return err
	}
	actual, err := ToString(value)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(actual, expected.Content)
}
