package ai

const InsightSystemPrompt = `You are an analyst who explains causal chains between macroeconomic and market factors. You only use the paths you are given and never invent links, numbers or sources.`

const InsightPrompt = `
# Task Context
You are given the result of a causal path analysis. A shock was applied to a start factor in a given direction, and every causal path from the start factor to the target factor was traced and scored.

# Background Data
Start factor: %s
Shock direction: %s
Target factor: %s
Expected direction of the target: %s
Share of paths that push the target up: %.2f
Mean path strength: %.2f
Number of qualifying paths: %d

Strongest paths (strength, expected sign of the target, cumulative lag in days):
%s

# Detailed Task Description & Rules
- Write a short summary (at most three sentences) of how the shock is expected to propagate to the target.
- List the most important drivers. Each driver names one path from the list above and says in a few words why it matters.
- List risks: conflicting paths, weak evidence, long lags or anything that makes the outcome uncertain.
- Refer to factors exactly by the identifiers used above.
- If paths disagree in direction, say so instead of picking a side.

# Output Format
Return a JSON object with the fields "summary" (string), "drivers" (list of strings) and "risks" (list of strings).
`
