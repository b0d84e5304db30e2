package llm

import (
	"context"

	"github.com/yankeguo/zhipu"
)

type zhipuClient struct {
	client      *zhipu.Client
	model       string
	temperature float64
}

func newZhipu(cfg Config) (*zhipuClient, error) {
	opts := []zhipu.ClientOption{zhipu.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, zhipu.WithBaseURL(cfg.BaseURL))
	}
	client, err := zhipu.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &zhipuClient{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

func (c *zhipuClient) Model() string { return c.model }

func (c *zhipuClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := c.client.ChatCompletion(c.model).AddMessage(zhipu.ChatCompletionMessage{
		Role:    zhipu.RoleUser,
		Content: prompt,
	})
	if c.temperature > 0 {
		req = req.SetTemperature(c.temperature)
	}
	res, err := req.Do(ctx)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", nil
	}
	return res.Choices[0].Message.Content, nil
}
