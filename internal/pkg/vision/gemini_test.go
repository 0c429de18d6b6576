package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	parts []genai.Part
	resp  *genai.GenerateContentResponse
	err   error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func candidate(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestGeminiClient_ExtractText(t *testing.T) {
	gen := &fakeGenerator{resp: candidate(genai.Text(`{"amount": `), genai.Blob{MIMEType: "image/png"}, genai.Text(`299}`))}
	client := &GeminiClient{model: gen}

	text, err := client.ExtractText(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpg", "read it")
	require.NoError(t, err)
	assert.Equal(t, `{"amount": 299}`, text)

	require.Len(t, gen.parts, 2)
	blob, ok := gen.parts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", blob.MIMEType)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, blob.Data)
	assert.Equal(t, genai.Text("read it"), gen.parts[1])
}

func TestGeminiClient_EmptyResponses(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"no candidates", &genai.GenerateContentResponse{}},
		{"nil content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}},
		{"no text parts", candidate(genai.Blob{MIMEType: "image/png"})},
		{"empty text", candidate(genai.Text(""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &GeminiClient{model: &fakeGenerator{resp: tt.resp}}
			_, err := client.ExtractText(context.Background(), []byte("img"), "image/png", "p")
			assert.ErrorIs(t, err, ErrEmptyResponse)
		})
	}
}

func TestGeminiClient_UpstreamError(t *testing.T) {
	upstream := errors.New("quota exceeded")
	client := &GeminiClient{model: &fakeGenerator{err: upstream}}

	_, err := client.ExtractText(context.Background(), []byte("img"), "image/png", "p")
	assert.ErrorIs(t, err, upstream)
	assert.Contains(t, err.Error(), "gemini API call failed")
}

func TestGeminiClient_CloseWithoutClient(t *testing.T) {
	assert.NoError(t, (&GeminiClient{}).Close())
}
