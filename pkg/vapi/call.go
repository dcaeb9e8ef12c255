package vapi

import "strings"

// Call is the voice-call metadata VAPI attaches to tool calls.
type Call struct {
	ID             string
	CustomerNumber string
	Messages       []Message
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

type inboundCall struct {
	ID       string `json:"id"`
	Customer *struct {
		Number string `json:"number"`
	} `json:"customer"`
	Messages []struct {
		Role    string `json:"role"`
		Message string `json:"message"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (c *inboundCall) toCall() Call {
	out := Call{ID: c.ID}
	if c.Customer != nil {
		out.CustomerNumber = strings.TrimSpace(c.Customer.Number)
	}
	for _, m := range c.Messages {
		text := m.Message
		if text == "" {
			text = m.Content
		}
		out.Messages = append(out.Messages, Message{Role: m.Role, Content: text})
	}
	return out
}

// Transcript renders user and assistant turns as "User: ..." and
// "Assistant: ..." lines. System and tool turns are skipped.
func (c Call) Transcript() string {
	var b strings.Builder
	for _, m := range c.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case "user":
			b.WriteString("User: " + text + "\n")
		case "assistant", "bot":
			b.WriteString("Assistant: " + text + "\n")
		}
	}
	return b.String()
}
