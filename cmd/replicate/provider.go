package main

import (
	"github.com/hamid-vakilzadeh/replication-ai/pkg/config"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm/openai"
)

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(
			openai.WithModel(cfg.Model),
			openai.WithAPIKey(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
		), nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL), nil
	}
	return nil, errors.Newf(errors.CodeConfig, "llm.provider %q is not supported", cfg.Provider)
}
