package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

// MetadataSystemPrompt is shared by every extraction schema.
const MetadataSystemPrompt = "You are a document analysis tool. Your task is to read the provided document and extract the requested fields exactly as they appear. You must output your response as a single valid JSON object."

// refusalPhrases mark a model answer that declined the task.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexEngine extracts schema fields from documents with a Gemini model.
type VertexEngine struct {
	baseClient *genai.Client
	modelName  string
}

// NewVertexEngine creates the engine for modelName in region.
func NewVertexEngine(ctx context.Context, projectID, region, modelName string) (*VertexEngine, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexEngine: projectID and region cannot be empty")
	}
	if modelName == "" {
		return nil, fmt.Errorf("NewVertexEngine: modelName cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexEngine{baseClient: baseClient, modelName: modelName}, nil
}

// model configures a generative model constrained to the schema's JSON shape.
func (e *VertexEngine) model(sch *schema.Schema) *genai.GenerativeModel {
	model := e.baseClient.GenerativeModel(e.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(MetadataSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(sch),
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

// Extract runs one model call over the document at src.
func (e *VertexEngine) Extract(ctx context.Context, src models.SourceRef, sch *schema.Schema) (models.FieldMap, error) {
	filePart := genai.FileData{
		MIMEType: src.MIMEType,
		FileURI:  src.URI,
	}
	resp, err := e.model(sch).GenerateContent(ctx, filePart, genai.Text(sch.Instruction()))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, models.Permanent(fmt.Errorf("gemini blocked the request: %w", err))
		}
		return nil, ClassifyEngineError(fmt.Errorf("failed to generate content from gemini: %w", err))
	}
	return ParseFields(responseText(resp))
}

// Close releases the underlying client.
func (e *VertexEngine) Close() error {
	if e.baseClient != nil {
		return e.baseClient.Close()
	}
	return nil
}

// ResponseSchema converts an extraction schema into the model's response schema.
func ResponseSchema(sch *schema.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:        genai.TypeObject,
		Description: sch.Description,
		Properties:  make(map[string]*genai.Schema, len(sch.Fields)),
	}
	for _, f := range sch.Fields {
		prop := &genai.Schema{Description: f.Description}
		switch f.Type {
		case schema.TypeInteger:
			prop.Type = genai.TypeInteger
		case schema.TypeNumber:
			prop.Type = genai.TypeNumber
		case schema.TypeBoolean:
			prop.Type = genai.TypeBoolean
		default:
			prop.Type = genai.TypeString
		}
		out.Properties[f.Name] = prop
		if f.Required {
			out.Required = append(out.Required, f.Name)
		}
	}
	return out
}

// ParseFields decodes the model answer. Empty answers, refusals and answers
// that are not a JSON object are permanent failures.
func ParseFields(text string) (models.FieldMap, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.Permanent(errors.New("gemini returned an empty response"))
	}

	var fields models.FieldMap
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		lower := strings.ToLower(text)
		for _, phrase := range refusalPhrases {
			if strings.Contains(lower, phrase) {
				return nil, models.Permanent(fmt.Errorf("gemini response indicates refusal: %q", truncate(text, 200)))
			}
		}
		return nil, models.Permanent(fmt.Errorf("gemini response is not a JSON object: %w", err))
	}
	if fields == nil {
		return nil, models.Permanent(errors.New("gemini response is null"))
	}
	return fields, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
