package pipeline

// ResolveArgs builds the concrete argument vector for step. It does no
// I/O and never fails: a placeholder whose id has no entry in table is
// passed through literally. Validate guarantees that cannot happen for
// an accepted command; callers that want to treat it as fatal check
// Unresolved first.
func ResolveArgs(step Step, table Table, outputPath string) []string {
	tokens := Tokenize(step.Args)
	args := make([]string, len(tokens))

	for i, t := range tokens {
		args[i] = t.Text

		switch t.Kind {
		case TokenOutput:
			args[i] = outputPath
		case TokenLegacyInput:
			if p, ok := table[step.InputFileID]; ok && step.InputFileID != "" {
				args[i] = p
			}
		case TokenInput:
			if p, ok := table[t.ID]; ok {
				args[i] = p
			}
		}
	}

	return args
}

// Unresolved returns the ids of placeholder arguments that ResolveArgs
// would leave untouched given table.
func Unresolved(step Step, table Table) []string {
	var missing []string
	for _, t := range Tokenize(step.Args) {
		switch t.Kind {
		case TokenLegacyInput:
			if _, ok := table[step.InputFileID]; !ok || step.InputFileID == "" {
				missing = append(missing, LegacyInputPlaceholder)
			}
		case TokenInput:
			if _, ok := table[t.ID]; !ok {
				missing = append(missing, t.ID)
			}
		}
	}
	return missing
}
