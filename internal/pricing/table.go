package pricing

// defaultModelCosts seeds DefaultRegistry. Costs are in the smallest credit
// unit and scale with the prompt-length bucket.
var defaultModelCosts = map[string]BucketCosts{
	"gpt-4o":           {Short: 8_000, Medium: 16_000, Long: 40_000},
	"gpt-4o-mini":      {Short: 500, Medium: 1_000, Long: 2_500},
	"gpt-4.1":          {Short: 10_000, Medium: 20_000, Long: 50_000},
	"o3-mini":          {Short: 4_000, Medium: 9_000, Long: 22_000},
	"claude-3-5-haiku": {Short: 800, Medium: 1_600, Long: 4_000},
	"claude-sonnet-4":  {Short: 9_000, Medium: 18_000, Long: 45_000},
	"claude-opus-4":    {Short: 45_000, Medium: 90_000, Long: 225_000},
	"gemini-2.0-flash": {Short: 400, Medium: 800, Long: 2_000},
	"gemini-2.5-pro":   {Short: 7_000, Medium: 14_000, Long: 35_000},
	"deepseek-v3":      {Short: 600, Medium: 1_200, Long: 3_000},
	"llama-3.3-70b":    {Short: 700, Medium: 1_400, Long: 3_500},
	"flux-1.1-pro":     {Short: 120_000, Medium: 120_000, Long: 120_000},
	"sdxl-turbo":       {Short: 15_000, Medium: 15_000, Long: 15_000},
}
