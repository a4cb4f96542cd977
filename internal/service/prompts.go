package service

import (
	"bytes"
	"embed"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// titleInstruction is injected once per manager instance, immediately before
// the user turn that crosses the title threshold.
const titleInstruction = "This conversation does not have a title yet. " +
	"After answering the user, call set_thread_title exactly once with a " +
	"concise title (at most five words) describing the conversation so far."

// primingPrompt is the hidden user message a pregenerated exchange answers.
// It is stored with is_visible=false so clients never render it.
const primingPrompt = "Greet me and offer to help with my tasks."

// dataResultPreamble introduces the task list fed back after a data_request.
const dataResultPreamble = "Here is the user's current task list as JSON. " +
	"Answer the user's last message using it. Do not call data_request again."

type promptData struct {
	Nickname string
}

func renderPrompt(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// systemPrompt renders the standing chat system prompt.
func systemPrompt(nickname string) (string, error) {
	return renderPrompt("chat_system.tmpl", promptData{Nickname: nickname})
}

// welcomePrompt renders the system prompt used to generate welcome messages.
func welcomePrompt(nickname string) (string, error) {
	return renderPrompt("welcome_system.tmpl", promptData{Nickname: nickname})
}
