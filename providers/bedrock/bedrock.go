// Package bedrock is an llm-class dispatch.Adapter backed by AWS
// Bedrock's Converse API, grounded on this codebase's
// ai/providers/bedrock client: the same request/response shape
// (system prompt, inference configuration, ConverseOutputMemberMessage
// content extraction, token usage), adapted from a single
// core.AIClient-shaped call into one dispatch.Adapter entry point that
// looks up a pre-built *bedrockruntime.Client per provider name.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/marketlens/engine/dispatch"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/providerreg"
)

// Credential is the per-provider configuration needed to reach Bedrock:
// the AWS region the model is hosted in. The model ID comes from
// providerreg.Snapshot's ModelOrIndex.
type Credential struct {
	Region string
}

// Adapter holds one bedrockruntime.Client per configured provider name,
// each built against its own region so a single process can fall back
// across models hosted in different AWS regions.
type Adapter struct {
	clients map[string]*bedrockruntime.Client
}

// New builds an Adapter from the credentials configured for every named
// llm-class provider entry. It loads the AWS SDK's default config and
// credential chain (environment credentials, shared profile, then IAM
// role) once per distinct region.
func New(ctx context.Context, creds map[string]Credential) (*Adapter, error) {
	clients := make(map[string]*bedrockruntime.Client, len(creds))
	cfgByRegion := make(map[string]aws.Config)

	for name, c := range creds {
		cfg, ok := cfgByRegion[c.Region]
		if !ok {
			loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
			if err != nil {
				return nil, fmt.Errorf("bedrock: load AWS config for region %q: %w", c.Region, err)
			}
			cfg = loaded
			cfgByRegion[c.Region] = cfg
		}
		clients[name] = bedrockruntime.NewFromConfig(cfg)
	}
	return &Adapter{clients: clients}, nil
}

// Invoke satisfies dispatch.Adapter for providerreg.ClassLLM.
func (a *Adapter) Invoke(ctx context.Context, entry providerreg.Snapshot, req dispatch.Request) (dispatch.Response, error) {
	client, ok := a.clients[entry.Name]
	if !ok {
		return dispatch.Response{}, errs.New("bedrock.Invoke", errs.KindDependencyMissing, entry.Name, fmt.Errorf("no bedrock client configured for provider %q", entry.Name))
	}

	messages := []types.Message{
		{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
		},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(entry.ModelOrIndex),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}

	output, err := client.Converse(ctx, input)
	if err != nil {
		return dispatch.Response{}, errs.New("bedrock.Invoke", classifyError(err), entry.Name, err)
	}

	if output.Output == nil {
		return dispatch.Response{}, errs.New("bedrock.Invoke", errs.KindEmptyResponse, entry.Name, errors.New("no output in bedrock response"))
	}

	var text string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	default:
		return dispatch.Response{}, errs.New("bedrock.Invoke", errs.KindServerError, entry.Name, errors.New("unexpected output type from bedrock"))
	}

	if text == "" {
		return dispatch.Response{}, errs.New("bedrock.Invoke", errs.KindEmptyResponse, entry.Name, errors.New("empty text content in bedrock response"))
	}

	return dispatch.Response{Text: text, Raw: output}, nil
}

// classifyError maps an AWS SDK error into the errs.Kind taxonomy the
// Fallback Dispatcher and Provider Registry reason about.
func classifyError(err error) errs.Kind {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case 429:
			return errs.KindRateLimited
		case 401, 403:
			return errs.KindAuth
		case 408:
			return errs.KindTimeout
		}
		if re.HTTPStatusCode() >= 500 {
			return errs.KindServerError
		}
	}
	return errs.KindServerError
}
