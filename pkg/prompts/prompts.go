package prompts

import (
	"bytes"
	"embed"
	"io"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

//go:embed prompts/*.yaml
var promptFS embed.FS

const (
	AdvisorPrompt     = "Advisor"
	UnitTestGenPrompt = "UnitTestGen"
)

var ErrPromptNotFound = errors.New("prompt not found")

type Variable struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Default     string `yaml:"default,omitempty"`
}

// PromptDescription is a prompt template file. The optional factories
// section holds the step settings the prompt should run with.
type PromptDescription struct {
	Name         string     `yaml:"name"`
	Short        string     `yaml:"short,omitempty"`
	SystemPrompt string     `yaml:"system-prompt,omitempty"`
	Prompt       string     `yaml:"prompt,omitempty"`
	Variables    []Variable `yaml:"variables,omitempty"`

	Settings *settings.StepSettings `yaml:"-"`
}

// Load reads a prompt description and its factories from YAML.
func Load(s io.Reader) (*PromptDescription, error) {
	content, err := io.ReadAll(s)
	if err != nil {
		return nil, err
	}

	pd := &PromptDescription{}
	if err := yaml.NewDecoder(bytes.NewReader(content)).Decode(pd); err != nil {
		return nil, errors.Wrap(err, "could not parse prompt")
	}
	if pd.Name == "" {
		return nil, errors.New("prompt has no name")
	}
	for i := range pd.Variables {
		pd.Variables[i].Name = strcase.ToLowerCamel(pd.Variables[i].Name)
	}

	// the factories are decoded from the same document a second time
	pd.Settings, err = settings.NewStepSettingsFromYAML(bytes.NewReader(content))
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse factories of prompt %s", pd.Name)
	}

	return pd, nil
}

// Get returns an embedded prompt by name.
func Get(name string) (*PromptDescription, error) {
	entries, err := promptFS.ReadDir("prompts")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		f, err := promptFS.Open(path.Join("prompts", e.Name()))
		if err != nil {
			return nil, err
		}
		pd, err := Load(f)
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "embedded prompt %s", e.Name())
		}
		if strings.EqualFold(pd.Name, name) {
			return pd, nil
		}
	}
	return nil, errors.Wrap(ErrPromptNotFound, name)
}

// List returns the names of the embedded prompts.
func List() ([]string, error) {
	entries, err := promptFS.ReadDir("prompts")
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, e := range entries {
		f, err := promptFS.Open(path.Join("prompts", e.Name()))
		if err != nil {
			return nil, err
		}
		pd, err := Load(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		ret = append(ret, pd.Name)
	}
	sort.Strings(ret)
	return ret, nil
}

// templateData applies defaults and checks required variables. Keys are
// normalized to lowerCamel so that "Code" and "code" are the same variable.
func (pd *PromptDescription) templateData(vars map[string]interface{}) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	for k, v := range vars {
		data[strcase.ToLowerCamel(k)] = v
	}
	for _, v := range pd.Variables {
		if _, ok := data[v.Name]; ok {
			continue
		}
		if v.Required {
			return nil, errors.Errorf("prompt %s: missing required variable %s", pd.Name, v.Name)
		}
		data[v.Name] = v.Default
	}
	return data, nil
}

func render(name string, tmpl string, data map[string]interface{}) (string, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", errors.Wrapf(err, "could not parse template %s", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "could not render template %s", name)
	}
	return buf.String(), nil
}

// Render renders the user prompt.
func (pd *PromptDescription) Render(vars map[string]interface{}) (string, error) {
	data, err := pd.templateData(vars)
	if err != nil {
		return "", err
	}
	return render(pd.Name, pd.Prompt, data)
}

// RenderSystemPrompt renders the system prompt.
func (pd *PromptDescription) RenderSystemPrompt(vars map[string]interface{}) (string, error) {
	data, err := pd.templateData(vars)
	if err != nil {
		return "", err
	}
	return render(pd.Name+"-system", pd.SystemPrompt, data)
}

// Conversation renders the prompt into a system message (when present)
// followed by the user message.
func (pd *PromptDescription) Conversation(vars map[string]interface{}) (conversation.Conversation, error) {
	var ret conversation.Conversation
	if pd.SystemPrompt != "" {
		sys, err := pd.RenderSystemPrompt(vars)
		if err != nil {
			return nil, err
		}
		ret = append(ret, conversation.NewChatMessage(conversation.RoleSystem, sys))
	}
	if pd.Prompt != "" {
		user, err := pd.Render(vars)
		if err != nil {
			return nil, err
		}
		ret = append(ret, conversation.NewChatMessage(conversation.RoleUser, user))
	}
	return ret, nil
}
