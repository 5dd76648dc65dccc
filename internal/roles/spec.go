package roles

import "fmt"

// Spec describes one agent role in the round sequence. The sequence itself
// is fixed; descriptors carry everything round-specific so the pipeline can
// stay declarative.
type Spec struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Tag         string `yaml:"tag"`
	Guidelines  string `yaml:"guidelines"`
}

const researcherGuidelines = `You are the Research Agent. Your role is to:
- Provide detailed analysis
- Focus on practical implications
- Consider challenges
- Generate new perspectives`

const analystGuidelines = `You are the Critical Analyst. Your role is to:
- Analyze previous findings critically
- Challenge assumptions
- Evaluate evidence quality
- Identify gaps and biases
- Consider ethical implications

IMPORTANT: Do not repeat the basic findings. Instead:
- Evaluate the strength of evidence for each finding
- Identify potential biases or limitations
- Challenge assumptions and explore alternative explanations
- Consider ethical implications and potential harms
- Suggest areas where more research is needed

Your analysis should focus on:
1. Evidence Quality: Evaluate the strength and reliability of evidence
2. Methodological Limitations: Identify study design issues and biases
3. Alternative Explanations: Consider other factors that might explain findings
4. Ethical Considerations: Examine potential harms and benefits
5. Research Gaps: Identify areas needing further investigation
6. Implementation Challenges: Analyze practical barriers to applying findings
7. Future Implications: Consider long-term consequences and trends

Format your analysis as:
Analysis Section: [Focus Area]
- [Critical evaluation point with evidence]
- [Limitation or alternative explanation]
- [Implications or recommendations]`

const synthesizerGuidelines = `You are the Synthesizer. Your role is to:
- Integrate all previous findings
- Identify patterns and themes
- Draw conclusions
- Propose applications
- Consider future implications

IMPORTANT: Do not repeat the basic findings. Instead:
- Connect findings across different areas
- Identify emerging patterns and themes
- Draw practical conclusions
- Suggest real-world applications
- Consider future implications and trends

Your synthesis should focus on:
1. Pattern Recognition: Identify common themes across findings
2. Cross-Domain Connections: Link findings from different areas
3. Practical Applications: Suggest real-world implementations
4. Policy Implications: Consider regulatory and policy needs
5. Future Scenarios: Project potential outcomes and trends
6. Stakeholder Impact: Analyze effects on different groups
7. Action Recommendations: Provide specific next steps

Format your synthesis as:
Synthesis Section: [Theme/Pattern]
- [Connection or pattern identified]
- [Practical application or implication]
- [Recommendation or next step]`

// Builtin returns the default three-role sequence
func Builtin() []Spec {
	return []Spec{
		{
			Name:        "researcher",
			DisplayName: "Research Agent",
			Tag:         "research",
			Guidelines:  researcherGuidelines,
		},
		{
			Name:        "analyst",
			DisplayName: "Critical Analyst",
			Tag:         "analyst",
			Guidelines:  analystGuidelines,
		},
		{
			Name:        "synthesizer",
			DisplayName: "Synthesizer",
			Tag:         "synthesizer",
			Guidelines:  synthesizerGuidelines,
		},
	}
}

// Validate checks that specs cover the fixed sequence in order. Overrides
// may reword guidelines or tags but cannot add, drop, or reorder roles.
func Validate(specs []Spec) error {
	defaults := Builtin()
	if len(specs) != len(defaults) {
		return fmt.Errorf("expected %d roles, got %d", len(defaults), len(specs))
	}
	for i, s := range specs {
		if s.Name != defaults[i].Name {
			return fmt.Errorf("role %d must be %q, got %q", i+1, defaults[i].Name, s.Name)
		}
	}
	return nil
}
