// Package chunker splits extracted page content into retrieval chunks.
package chunker

// Default word budgets.
const (
	DefaultDocumentSummaryWords = 300
	DefaultSectionMaxWords      = 500
	DefaultParagraphMaxWords    = 300
	DefaultParagraphMinWords    = 50
	DefaultOverlapWords         = 50
)

// Config holds the word budgets shared by every strategy.
type Config struct {
	DocumentSummaryWords int  `mapstructure:"document_summary_words"`
	SectionMaxWords      int  `mapstructure:"section_max_words"`
	ParagraphMaxWords    int  `mapstructure:"paragraph_max_words"`
	ParagraphMinWords    int  `mapstructure:"paragraph_min_words"`
	OverlapWords         int  `mapstructure:"overlap_words"`
	IncludeDocument      bool `mapstructure:"include_document"`
	IncludeSections      bool `mapstructure:"include_sections"`
}

// DefaultConfig returns the stock budgets with document and section chunks on.
func DefaultConfig() Config {
	return Config{
		DocumentSummaryWords: DefaultDocumentSummaryWords,
		SectionMaxWords:      DefaultSectionMaxWords,
		ParagraphMaxWords:    DefaultParagraphMaxWords,
		ParagraphMinWords:    DefaultParagraphMinWords,
		OverlapWords:         DefaultOverlapWords,
		IncludeDocument:      true,
		IncludeSections:      true,
	}
}

// Option configures a strategy.
type Option func(*Config)

// WithConfig replaces every budget at once; non-positive values keep defaults.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		WithDocumentSummaryWords(cfg.DocumentSummaryWords)(c)
		WithSectionMaxWords(cfg.SectionMaxWords)(c)
		WithParagraphWords(cfg.ParagraphMinWords, cfg.ParagraphMaxWords)(c)
		WithOverlapWords(cfg.OverlapWords)(c)
		c.IncludeDocument = cfg.IncludeDocument
		c.IncludeSections = cfg.IncludeSections
	}
}

// WithDocumentSummaryWords sets the level-0 overview budget.
func WithDocumentSummaryWords(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.DocumentSummaryWords = n
		}
	}
}

// WithSectionMaxWords sets the size above which a section chunk is summarized.
func WithSectionMaxWords(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SectionMaxWords = n
		}
	}
}

// WithParagraphWords sets the level-2 window bounds.
func WithParagraphWords(minWords, maxWords int) Option {
	return func(c *Config) {
		if maxWords > 0 {
			c.ParagraphMaxWords = maxWords
		}
		if minWords > 0 {
			c.ParagraphMinWords = minWords
		}
	}
}

// WithOverlapWords sets the target overlap between consecutive windows.
func WithOverlapWords(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.OverlapWords = n
		}
	}
}

// WithDocumentChunk toggles the level-0 chunk.
func WithDocumentChunk(enabled bool) Option {
	return func(c *Config) { c.IncludeDocument = enabled }
}

// WithSectionChunks toggles level-1 chunks.
func WithSectionChunks(enabled bool) Option {
	return func(c *Config) { c.IncludeSections = enabled }
}

func buildConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ParagraphMinWords >= cfg.ParagraphMaxWords {
		cfg.ParagraphMinWords = cfg.ParagraphMaxWords / 4
	}
	if cfg.OverlapWords >= cfg.ParagraphMaxWords {
		cfg.OverlapWords = cfg.ParagraphMaxWords / 4
	}
	return cfg
}
