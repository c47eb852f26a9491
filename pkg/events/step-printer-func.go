package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc returns a router handler that prints streamed events as
// plain text to w. Tool calls are printed as YAML when showToolCalls is set.
func StepPrinterFunc(name string, w io.Writer, showToolCalls bool) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err = fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}
			if _, err = fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventStatus:
			if _, err = fmt.Fprintf(w, "\n%s\n", p_.Text); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err = fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}

		case *EventInterrupt:
			if _, err = fmt.Fprintf(w, "\n[interrupted]\n"); err != nil {
				return err
			}

		case *EventError:
			if _, err = fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}

		case *EventToolCall:
			if !showToolCalls {
				return nil
			}
			v_, err := yaml.Marshal(p_.ToolCall)
			if err != nil {
				return err
			}
			if _, err = fmt.Fprintf(w, "%s\n", v_); err != nil {
				return err
			}

		case *EventToolCallExecutionResult:
			if !showToolCalls {
				return nil
			}
			v_, err := yaml.Marshal(p_.ToolResult)
			if err != nil {
				return err
			}
			if _, err = fmt.Fprintf(w, "%s\n", v_); err != nil {
				return err
			}
		}

		return nil
	}
}
