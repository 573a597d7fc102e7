package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nadzzz/liveprompt/internal/command"
	"github.com/nadzzz/liveprompt/internal/fault"
)

func TestSystemDirectiveListsVocabulary(t *testing.T) {
	for _, name := range append(command.Setters(), command.Getters()...) {
		if !strings.Contains(SystemDirective, name) {
			t.Errorf("directive does not mention %s", name)
		}
	}
	for _, rule := range []string{"JSON", "Omit \"params\"", "double quotes"} {
		if !strings.Contains(SystemDirective, rule) {
			t.Errorf("directive missing rule %q", rule)
		}
	}
}

func TestErrorClassifiers(t *testing.T) {
	if k := fault.KindOf(Unreachable(errors.New("refused"))); k != fault.ProviderUnreachable {
		t.Errorf("Unreachable kind = %v", k)
	}
	if err := BadStatus(500, "  boom \n"); fault.KindOf(err) != fault.ProviderBadStatus || err.Error() != "completion provider returned status 500: boom" {
		t.Errorf("BadStatus = %v", err)
	}
	if err := BadStatus(404, ""); err.Error() != "completion provider returned status 404" {
		t.Errorf("BadStatus without body = %v", err)
	}
	if k := fault.KindOf(Malformed("no choices")); k != fault.ProviderMalformedEnvelope {
		t.Errorf("Malformed kind = %v", k)
	}
}

func TestIsTransportError(t *testing.T) {
	if !IsTransportError(fmt.Errorf("post: %w", context.DeadlineExceeded)) {
		t.Error("deadline should count as transport error")
	}
	if IsTransportError(errors.New("invalid character '<'")) {
		t.Error("decode error should not count as transport error")
	}
}
