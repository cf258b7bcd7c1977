package schema

// TileParams is the kind-specific parameter record of a tile. Each of the
// nine kinds has its own concrete type; unknown kinds keep their raw map.
type TileParams interface {
	// Kind is the tile type this record belongs to.
	Kind() TileType
	// Templates returns every string parameter that is subject to
	// {{name}} interpolation, in declaration order.
	Templates() []string
}

// Default parameter values applied at dispatch time.
const (
	DefaultWaitUntil       = "load"
	DefaultNavigateTimeout = 30000
	DefaultWaitDuration    = 1000
)

// NavigateParams opens a URL.
type NavigateParams struct {
	URL       string `yaml:"url"                 json:"url"`
	WaitUntil string `yaml:"waitUntil,omitempty" json:"waitUntil,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"   json:"timeout,omitempty"` // milliseconds
}

func (p *NavigateParams) Kind() TileType      { return TileNavigate }
func (p *NavigateParams) Templates() []string { return []string{p.URL} }

// WaitStrategy returns the configured wait strategy or the page-load default.
func (p *NavigateParams) WaitStrategy() string {
	if p.WaitUntil == "" {
		return DefaultWaitUntil
	}
	return p.WaitUntil
}

// TimeoutMs returns the configured timeout or 30000.
func (p *NavigateParams) TimeoutMs() int {
	if p.Timeout <= 0 {
		return DefaultNavigateTimeout
	}
	return p.Timeout
}

// ClickParams clicks the element described by Instruction.
type ClickParams struct {
	Instruction string `yaml:"instruction" json:"instruction"`
}

func (p *ClickParams) Kind() TileType      { return TileClick }
func (p *ClickParams) Templates() []string { return []string{p.Instruction} }

// TypeParams types a value into a field. The value comes from Value,
// then Variable, then CredentialField, in that priority.
type TypeParams struct {
	Instruction     string `yaml:"instruction"               json:"instruction"`
	Value           string `yaml:"value,omitempty"           json:"value,omitempty"`
	Variable        string `yaml:"variable,omitempty"        json:"variable,omitempty"`
	CredentialField string `yaml:"credentialField,omitempty" json:"credentialField,omitempty"`
}

func (p *TypeParams) Kind() TileType      { return TileTypeText }
func (p *TypeParams) Templates() []string { return []string{p.Instruction, p.Value} }

// AuthParams overrides the instructions used for the three login actions.
type AuthParams struct {
	UsernameField string `yaml:"usernameField,omitempty" json:"usernameField,omitempty"`
	PasswordField string `yaml:"passwordField,omitempty" json:"passwordField,omitempty"`
	SubmitButton  string `yaml:"submitButton,omitempty"  json:"submitButton,omitempty"`
}

func (p *AuthParams) Kind() TileType { return TileAuth }
func (p *AuthParams) Templates() []string {
	return []string{p.UsernameField, p.PasswordField, p.SubmitButton}
}

// ExtractParams pulls structured data off the page. A non-empty
// OutputVariable exposes the payload to later tiles.
type ExtractParams struct {
	Instruction    string         `yaml:"instruction"              json:"instruction"`
	Schema         map[string]any `yaml:"schema,omitempty"         json:"schema,omitempty"`
	OutputVariable string         `yaml:"outputVariable,omitempty" json:"outputVariable,omitempty"`
}

func (p *ExtractParams) Kind() TileType      { return TileExtract }
func (p *ExtractParams) Templates() []string { return []string{p.Instruction} }

// ScreenshotParams captures the page.
type ScreenshotParams struct {
	FullPage bool `yaml:"fullPage,omitempty" json:"fullPage,omitempty"`
}

func (p *ScreenshotParams) Kind() TileType      { return TileScreenshot }
func (p *ScreenshotParams) Templates() []string { return nil }

// WaitParams pauses the run. Zero means the 1000ms default.
type WaitParams struct {
	Duration int `yaml:"duration,omitempty" json:"duration,omitempty"` // milliseconds
}

func (p *WaitParams) Kind() TileType      { return TileWait }
func (p *WaitParams) Templates() []string { return nil }

// DurationMs returns the configured pause or the default.
func (p *WaitParams) DurationMs() int {
	if p.Duration <= 0 {
		return DefaultWaitDuration
	}
	return p.Duration
}

// SelectParams picks Value from the dropdown described by Instruction.
type SelectParams struct {
	Instruction string `yaml:"instruction" json:"instruction"`
	Value       string `yaml:"value"       json:"value"`
}

func (p *SelectParams) Kind() TileType      { return TileSelect }
func (p *SelectParams) Templates() []string { return []string{p.Instruction, p.Value} }

// FormParams fills several fields in order.
type FormParams struct {
	Fields []FormField `yaml:"fields" json:"fields"`
}

// FormField is one entry of a FORM tile. Value wins over Variable.
type FormField struct {
	Instruction string `yaml:"instruction"        json:"instruction"`
	Value       string `yaml:"value,omitempty"    json:"value,omitempty"`
	Variable    string `yaml:"variable,omitempty" json:"variable,omitempty"`
}

func (p *FormParams) Kind() TileType { return TileForm }
func (p *FormParams) Templates() []string {
	out := make([]string, 0, len(p.Fields)*2)
	for _, f := range p.Fields {
		out = append(out, f.Instruction, f.Value)
	}
	return out
}

// UnknownParams preserves the raw parameter map of a tile whose type is
// not one of the nine kinds.
type UnknownParams map[string]any

func (p UnknownParams) Kind() TileType { return "" }
func (p UnknownParams) Templates() []string {
	var out []string
	for _, v := range p {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// newParams returns an empty record for the given kind.
func newParams(t TileType) TileParams {
	switch t {
	case TileNavigate:
		return &NavigateParams{}
	case TileClick:
		return &ClickParams{}
	case TileTypeText:
		return &TypeParams{}
	case TileAuth:
		return &AuthParams{}
	case TileExtract:
		return &ExtractParams{}
	case TileScreenshot:
		return &ScreenshotParams{}
	case TileWait:
		return &WaitParams{}
	case TileSelect:
		return &SelectParams{}
	case TileForm:
		return &FormParams{}
	default:
		return UnknownParams{}
	}
}

// Parameters returns the tile's parameter record, substituting an empty
// record of the right kind when none was set.
func (t Tile) Parameters() TileParams {
	if t.Params != nil {
		return t.Params
	}
	return newParams(t.Type)
}
