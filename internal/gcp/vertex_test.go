package gcp

import (
	"testing"
	"unicode/utf8"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

func TestResponseSchema_Lease(t *testing.T) {
	s := ResponseSchema(schema.LeaseV1)
	assert.Equal(t, genai.TypeObject, s.Type)
	require.Len(t, s.Properties, len(schema.LeaseV1.Fields))
	assert.Equal(t, genai.TypeString, s.Properties["city"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["lease_start_date"].Type)
	assert.Equal(t, genai.TypeInteger, s.Properties["rent"].Type)
	assert.Equal(t, "The monthly rent amount.", s.Properties["rent"].Description)
	assert.ElementsMatch(t, []string{
		"city", "street", "province", "postalcode",
		"lease_start_date", "lease_end_date", "rent", "document_language",
	}, s.Required)
}

func TestResponseSchema_Contract(t *testing.T) {
	s := ResponseSchema(schema.ContractV1)
	assert.Equal(t, genai.TypeNumber, s.Properties["total_amount"].Type)
	assert.NotContains(t, s.Required, "currency")
}

func TestParseFields(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		fields, err := ParseFields(`{"city":"Toronto","rent":2100}`)
		require.NoError(t, err)
		assert.Equal(t, "Toronto", fields["city"])
		assert.Equal(t, float64(2100), fields["rent"])
	})
	t.Run("fenced object", func(t *testing.T) {
		fields, err := ParseFields("```json\n{\"city\":\"Toronto\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "Toronto", fields["city"])
	})
	t.Run("empty", func(t *testing.T) {
		_, err := ParseFields("   ")
		assert.True(t, models.IsPermanent(err))
	})
	t.Run("refusal", func(t *testing.T) {
		_, err := ParseFields("I cannot provide details about this document.")
		assert.True(t, models.IsPermanent(err))
		assert.ErrorContains(t, err, "refusal")
	})
	t.Run("refusal phrase inside extracted text", func(t *testing.T) {
		fields, err := ParseFields(`{"street":"Note: I cannot provide parking","city":"Toronto"}`)
		require.NoError(t, err)
		assert.Equal(t, "Toronto", fields["city"])
	})
	t.Run("not an object", func(t *testing.T) {
		_, err := ParseFields(`["city"]`)
		assert.True(t, models.IsPermanent(err))
	})
	t.Run("null", func(t *testing.T) {
		_, err := ParseFields("null")
		assert.True(t, models.IsPermanent(err))
	})
}

func TestResponseText(t *testing.T) {
	assert.Empty(t, responseText(nil))
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
		}},
	}
	assert.Equal(t, `{"a":1}`, responseText(resp))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "Montr...", truncate("Montréal", 6))
	assert.True(t, utf8.ValidString(truncate("日本語の契約書", 4)))
}
