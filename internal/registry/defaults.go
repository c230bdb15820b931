package registry

import "time"

// Capability tags used by the default catalog. Multilingual and safety-filter
// support are modeled as capabilities so constraint filtering stays uniform.
const (
	CapChat         = "chat"
	CapReasoning    = "reasoning"
	CapVision       = "vision"
	CapAudio        = "audio"
	CapEmbeddings   = "embeddings"
	CapImageGen     = "image_generation"
	CapMultilingual = "multilingual"
	CapSafetyFilter = "safety_filter"
)

// Canonical task families.
const (
	FamilyChat         = "chat"
	FamilyTextAnalysis = "text_analysis"
	FamilyVision       = "vision_analysis"
	FamilyAudio        = "audio_transcription"
	FamilyEmbeddings   = "embeddings"
	FamilyImageGen     = "image_generation"
)

// DefaultSnapshot returns the authored catalog shipped with the binary.
// Entry order within a family is the authored preference order and is
// significant: ties within a tier are broken by it.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Families: map[string][]Entry{
			FamilyChat: {
				{Provider: "anthropic", ModelID: "claude-sonnet", Capabilities: []string{CapChat, CapReasoning, CapMultilingual, CapSafetyFilter}, Tier: TierPrimary, CostTier: CostStandard, MaxInputTokens: 200000, CostPer1K: 0.009, Quality: 0.93},
				{Provider: "openai", ModelID: "gpt-4o", Capabilities: []string{CapChat, CapReasoning, CapVision, CapMultilingual, CapSafetyFilter}, Tier: TierPrimary, CostTier: CostStandard, MaxInputTokens: 128000, CostPer1K: 0.0075, Quality: 0.92},
				{Provider: "anthropic", ModelID: "claude-opus", Capabilities: []string{CapChat, CapReasoning, CapMultilingual, CapSafetyFilter}, Tier: TierFallback, CostTier: CostPremium, MaxInputTokens: 200000, CostPer1K: 0.045, Quality: 0.97},
				{Provider: "openai", ModelID: "gpt-4o-mini", Capabilities: []string{CapChat, CapMultilingual, CapSafetyFilter}, Tier: TierLite, CostTier: CostEconomy, MaxInputTokens: 128000, CostPer1K: 0.000375, Quality: 0.82},
				{Provider: "local", ModelID: "qwen-7b-chat", Capabilities: []string{CapChat}, Tier: TierExperimental, CostTier: CostEconomy, MaxInputTokens: 32768, Quality: 0.61, Notes: "self-hosted eval candidate"},
			},
			FamilyTextAnalysis: {
				{Provider: "openai", ModelID: "gpt-4o-mini", Capabilities: []string{CapChat, CapMultilingual, CapSafetyFilter}, Tier: TierPrimary, CostTier: CostEconomy, MaxInputTokens: 128000, CostPer1K: 0.000375, Quality: 0.82},
				{Provider: "anthropic", ModelID: "claude-haiku", Capabilities: []string{CapChat, CapMultilingual, CapSafetyFilter}, Tier: TierFallback, CostTier: CostEconomy, MaxInputTokens: 200000, CostPer1K: 0.0008, Quality: 0.79},
				{Provider: "anthropic", ModelID: "claude-sonnet", Capabilities: []string{CapChat, CapReasoning, CapMultilingual, CapSafetyFilter}, Tier: TierFallback, CostTier: CostStandard, MaxInputTokens: 200000, CostPer1K: 0.009, Quality: 0.93},
			},
			FamilyVision: {
				{Provider: "openai", ModelID: "gpt-4o", Capabilities: []string{CapVision, CapChat, CapMultilingual, CapSafetyFilter}, Tier: TierPrimary, CostTier: CostStandard, MaxInputTokens: 128000, CostPer1K: 0.0075, Quality: 0.91},
				{Provider: "anthropic", ModelID: "claude-sonnet", Capabilities: []string{CapVision, CapChat, CapMultilingual, CapSafetyFilter}, Tier: TierFallback, CostTier: CostStandard, MaxInputTokens: 200000, CostPer1K: 0.009, Quality: 0.9},
			},
			FamilyAudio: {
				{Provider: "openai", ModelID: "whisper-1", Capabilities: []string{CapAudio, CapMultilingual}, Tier: TierPrimary, CostTier: CostEconomy, CostPer1K: 0.0001, Quality: 0.88},
			},
			FamilyEmbeddings: {
				{Provider: "openai", ModelID: "text-embedding-3-large", Capabilities: []string{CapEmbeddings, CapMultilingual}, Tier: TierPrimary, CostTier: CostStandard, MaxInputTokens: 8191, CostPer1K: 0.00013, Quality: 0.9},
				{Provider: "openai", ModelID: "text-embedding-3-small", Capabilities: []string{CapEmbeddings, CapMultilingual}, Tier: TierLite, CostTier: CostEconomy, MaxInputTokens: 8191, CostPer1K: 0.00002, Quality: 0.84},
			},
			FamilyImageGen: {
				{Provider: "openai", ModelID: "dall-e-3", Capabilities: []string{CapImageGen, CapSafetyFilter}, Tier: TierPrimary, CostTier: CostPremium, CostPer1K: 0.04, Quality: 0.89},
				{Provider: "openai", ModelID: "dall-e-2", Capabilities: []string{CapImageGen, CapSafetyFilter}, Tier: TierLite, CostTier: CostStandard, CostPer1K: 0.02, Quality: 0.7},
			},
		},
		Configs: map[string]TaskConfig{
			FamilyChat:         {Timeout: 30 * time.Second, MaxRetries: 2},
			FamilyTextAnalysis: {Timeout: 15 * time.Second, MaxRetries: 2, Cacheable: true, CacheTTL: time.Hour},
			FamilyVision:       {Timeout: 45 * time.Second, MaxRetries: 1},
			FamilyAudio:        {Timeout: 120 * time.Second, MaxRetries: 1},
			FamilyEmbeddings:   {Timeout: 10 * time.Second, MaxRetries: 2, Cacheable: true, CacheTTL: 7 * 24 * time.Hour},
			FamilyImageGen:     {Timeout: 90 * time.Second, MaxRetries: 1},
		},
		Aliases: map[string]string{
			"chatbot":          FamilyChat,
			"conversation":     FamilyChat,
			"qa":               FamilyChat,
			"open-qa":          FamilyChat,
			"summarization":    FamilyChat,
			"rewrite":          FamilyChat,
			"translation":      FamilyChat,
			"text-generation":  FamilyChat,
			"zero-shot":        FamilyTextAnalysis,
			"ner":              FamilyTextAnalysis,
			"classification":   FamilyTextAnalysis,
			"sentiment":        FamilyTextAnalysis,
			"extraction":       FamilyTextAnalysis,
			"image-caption":    FamilyVision,
			"ocr":              FamilyVision,
			"vision":           FamilyVision,
			"stt":              FamilyAudio,
			"speech-to-text":   FamilyAudio,
			"transcribe":       FamilyAudio,
			"embed":            FamilyEmbeddings,
			"similarity":       FamilyEmbeddings,
			"semantic-search":  FamilyEmbeddings,
			"txt2img":          FamilyImageGen,
			"image-generation": FamilyImageGen,
		},
		Capabilities: map[string][]string{
			FamilyChat:         {CapChat, CapReasoning},
			FamilyTextAnalysis: {CapChat, CapReasoning},
			FamilyVision:       {CapVision},
			FamilyAudio:        {CapAudio},
			FamilyEmbeddings:   {CapEmbeddings},
			FamilyImageGen:     {CapImageGen},
		},
		Version: 1,
	}
}
