package textgen

// Sampling is the parameter object sent alongside the prompt. Field order
// and names follow the text-generation-webui API.
type Sampling struct {
	MaxNewTokens             int      `json:"max_new_tokens" yaml:"-"`
	DoSample                 bool     `json:"do_sample" yaml:"-"`
	Temperature              float64  `json:"temperature" yaml:"temperature"`
	TopP                     float64  `json:"top_p" yaml:"top_p"`
	TypicalP                 float64  `json:"typical_p" yaml:"typical_p"`
	RepetitionPenalty        float64  `json:"repetition_penalty" yaml:"repetition_penalty"`
	EncoderRepetitionPenalty float64  `json:"encoder_repetition_penalty" yaml:"encoder_repetition_penalty"`
	TopK                     float64  `json:"top_k" yaml:"top_k"`
	MinLength                int      `json:"min_length" yaml:"min_length"`
	NoRepeatNgramSize        int      `json:"no_repeat_ngram_size" yaml:"no_repeat_ngram_size"`
	NumBeams                 int      `json:"num_beams" yaml:"num_beams"`
	PenaltyAlpha             float64  `json:"penalty_alpha" yaml:"penalty_alpha"`
	LengthPenalty            float64  `json:"length_penalty" yaml:"length_penalty"`
	EarlyStopping            bool     `json:"early_stopping" yaml:"-"`
	Seed                     int64    `json:"seed" yaml:"-"`
	AddBOSToken              bool     `json:"add_bos_token" yaml:"-"`
	TruncationLength         int      `json:"truncation_length" yaml:"-"`
	CustomStoppingStrings    []string `json:"custom_stopping_strings" yaml:"-"`
	BanEOSToken              bool     `json:"ban_eos_token" yaml:"-"`
}

// Fixed request settings. Only the tunable fields above come from config.
const (
	MaxNewTokens     = 200
	TruncationLength = 2000
	// UnsetSeed asks the backend to pick a random seed.
	UnsetSeed = -1
)

// DefaultSampling returns the fixed bundle with moderate tunables.
func DefaultSampling() Sampling {
	return Sampling{
		Temperature:              0.7,
		TopP:                     0.9,
		TypicalP:                 1,
		RepetitionPenalty:        1.15,
		EncoderRepetitionPenalty: 1,
		TopK:                     40,
		NumBeams:                 1,
		LengthPenalty:            1,
	}.withFixed()
}

// withFixed overwrites the fields that are not configurable.
func (s Sampling) withFixed() Sampling {
	s.MaxNewTokens = MaxNewTokens
	s.DoSample = true
	s.EarlyStopping = false
	s.Seed = UnsetSeed
	s.AddBOSToken = false
	s.TruncationLength = TruncationLength
	s.CustomStoppingStrings = []string{}
	s.BanEOSToken = true
	return s
}
