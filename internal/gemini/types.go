package gemini

// Wire types for the generateContent REST surface.

type generateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
}

// Content is one conversation turn: a role plus ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part carries either text or inline binary data (images).
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded media with its MIME type.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig tunes a single call.
type GenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema  `json:"responseSchema,omitempty"`
}

// Schema constrains structured output. Only the subset the portal needs:
// flat objects of named string/enum fields.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
	Nullable   bool               `json:"nullable,omitempty"`
}

// Tool enables server-side tools; the portal only uses search grounding
// for route planning.
type Tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type generateResponse struct {
	Candidates []candidate    `json:"candidates"`
	Error      *errorEnvelope `json:"error,omitempty"`
}

type candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks,omitempty"`
}

type groundingChunk struct {
	Web *webSource `json:"web,omitempty"`
}

type webSource struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

type errorEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// StringObjectSchema builds the flat all-string object schema used by
// the structured extraction calls.
func StringObjectSchema(fields ...string) *Schema {
	props := make(map[string]*Schema, len(fields))
	for _, f := range fields {
		props[f] = &Schema{Type: "STRING"}
	}
	return &Schema{
		Type:       "OBJECT",
		Properties: props,
		Required:   fields,
	}
}

// EnumProperty replaces one property of an object schema with an enum
// constraint. It returns the schema for chaining.
func (s *Schema) EnumProperty(field string, values ...string) *Schema {
	if s.Properties == nil {
		s.Properties = make(map[string]*Schema)
	}
	s.Properties[field] = &Schema{Type: "STRING", Enum: values}
	return s
}

// NullableProperty marks one property of an object schema as nullable.
func (s *Schema) NullableProperty(field string) *Schema {
	if p, ok := s.Properties[field]; ok {
		p.Nullable = true
	}
	return s
}
