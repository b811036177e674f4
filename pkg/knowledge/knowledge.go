// Package knowledge answers questions from a Bedrock knowledge base through
// the RetrieveAndGenerate API.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"fusionbot/pkg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// Citation is one source document referenced by a generated answer.
type Citation struct {
	Title string
	URI   string
}

// Result is a grounded answer plus the documents it cites, in response order.
type Result struct {
	Answer    string
	Citations []Citation
}

type retrieveAndGenerateAPI interface {
	RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// Client queries one knowledge base with one generation model.
type Client struct {
	api              retrieveAndGenerateAPI
	knowledgeBaseID  string
	modelARN         string
	titleMetadataKey string
	requestTimeout   time.Duration
	log              *slog.Logger
}

// New builds a Bedrock Agent Runtime client. Static credentials are used when
// the configured env vars are set, otherwise the default AWS chain applies.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	kbCfg := cfg.Knowledge
	if strings.TrimSpace(kbCfg.KnowledgeBaseID) == "" {
		return nil, errors.New("knowledge.knowledge_base_id is required")
	}
	if strings.TrimSpace(kbCfg.ModelARN) == "" {
		return nil, errors.New("knowledge.model_arn is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(kbCfg.Region)}
	if provider, ok := staticCredentials(kbCfg); ok {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(provider))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := bedrockagentruntime.NewFromConfig(awsCfg, func(o *bedrockagentruntime.Options) {
		o.RetryMaxAttempts = 1
	})

	return newWithAPI(api, cfg), nil
}

func newWithAPI(api retrieveAndGenerateAPI, cfg *config.Config) *Client {
	return &Client{
		api:              api,
		knowledgeBaseID:  strings.TrimSpace(cfg.Knowledge.KnowledgeBaseID),
		modelARN:         strings.TrimSpace(cfg.Knowledge.ModelARN),
		titleMetadataKey: strings.TrimSpace(cfg.Knowledge.TitleMetadataKey),
		requestTimeout:   cfg.Pipeline.RequestTimeout(),
		log:              slog.Default().With("component", "knowledge.bedrock"),
	}
}

// Retrieve runs retrieval-and-generation for the question text.
func (c *Client) Retrieve(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, errors.New("question is required")
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	startedAt := time.Now()
	out, err := c.api.RetrieveAndGenerate(ctx, &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(question)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(c.knowledgeBaseID),
				ModelArn:        aws.String(c.modelARN),
			},
		},
	})
	if err != nil {
		c.log.Debug("retrieve and generate failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return Result{}, fmt.Errorf("retrieve and generate: %w", err)
	}

	result := Result{Citations: c.citations(out.Citations)}
	if out.Output != nil {
		result.Answer = strings.TrimSpace(aws.ToString(out.Output.Text))
	}
	c.log.Debug("retrieve and generate completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"answer_length", len(result.Answer),
		"citations", len(result.Citations),
	)

	return result, nil
}

// citations flattens every retrieved reference of every citation, keeping the
// first occurrence of each title and URI pair. Fields that cannot be resolved
// are left empty for the formatter to drop.
func (c *Client) citations(in []types.Citation) []Citation {
	var out []Citation
	seen := make(map[Citation]struct{})
	for _, citation := range in {
		for _, ref := range citation.RetrievedReferences {
			cite := Citation{
				Title: metadataString(ref.Metadata, c.titleMetadataKey),
				URI:   locationURI(ref.Location),
			}
			if _, dup := seen[cite]; dup {
				continue
			}
			seen[cite] = struct{}{}
			out = append(out, cite)
		}
	}

	return out
}

func locationURI(location *types.RetrievalResultLocation) string {
	if location == nil {
		return ""
	}

	switch {
	case location.KendraDocumentLocation != nil:
		return strings.TrimSpace(aws.ToString(location.KendraDocumentLocation.Uri))
	case location.S3Location != nil:
		return strings.TrimSpace(aws.ToString(location.S3Location.Uri))
	case location.WebLocation != nil:
		return strings.TrimSpace(aws.ToString(location.WebLocation.Url))
	case location.ConfluenceLocation != nil:
		return strings.TrimSpace(aws.ToString(location.ConfluenceLocation.Url))
	default:
		return ""
	}
}

func metadataString(metadata map[string]document.Interface, key string) string {
	if key == "" || metadata == nil {
		return ""
	}

	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}

	var text string
	if err := value.UnmarshalSmithyDocument(&text); err != nil {
		return ""
	}

	return strings.TrimSpace(text)
}

func staticCredentials(cfg config.KnowledgeConfig) (aws.CredentialsProvider, bool) {
	keyEnv := strings.TrimSpace(cfg.AccessKeyIDEnv)
	secretEnv := strings.TrimSpace(cfg.SecretAccessKeyEnv)
	if keyEnv == "" || secretEnv == "" {
		return nil, false
	}

	accessKey := strings.TrimSpace(os.Getenv(keyEnv))
	secretKey := strings.TrimSpace(os.Getenv(secretEnv))
	if accessKey == "" || secretKey == "" {
		return nil, false
	}

	return credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""), true
}
