package providers

// EstimateTokens approximates token count for budgeting before a call, and
// for providers whose API reports no usage. Four characters per token is the
// usual rule of thumb for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	estimate := len(text) / 4
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
