package thesis

// thesisKeywords weights each keyword by specificity: "vector database" is
// nearly conclusive, "machine learning" barely moves the needle.
var thesisKeywords = map[Thesis]map[string]float64{
	AIInfrastructure: {
		// core infrastructure
		"llm":                  0.9,
		"large language model": 0.9,
		"inference":            0.8,
		"vector database":      0.9,
		"embedding":            0.7,
		"ml ops":               0.8,
		"mlops":                0.8,
		"fine-tuning":          0.8,
		"fine tuning":          0.8,
		"model training":       0.7,
		"gpu":                  0.5,
		"cuda":                 0.6,
		"transformer":          0.7,
		"neural network":       0.5,
		"deep learning":        0.5,

		// tooling
		"ai platform":         0.6,
		"machine learning":    0.4,
		"ml platform":         0.7,
		"data pipeline":       0.5,
		"feature store":       0.8,
		"model serving":       0.8,
		"model deployment":    0.7,
		"ai api":              0.6,
		"prompt engineering":  0.6,
		"rag":                 0.7,
		"retrieval augmented": 0.8,

		// named technologies
		"pytorch":       0.5,
		"tensorflow":    0.5,
		"langchain":     0.7,
		"openai api":    0.5,
		"anthropic api": 0.5,
		"hugging face":  0.6,
		"vertex ai":     0.5,
		"sagemaker":     0.5,
	},

	Healthtech: {
		// clinical and medical
		"clinical trial":    0.9,
		"clinical":          0.6,
		"fda":               0.8,
		"fda approval":      0.9,
		"diagnostic":        0.7,
		"therapeutics":      0.8,
		"drug discovery":    0.9,
		"pharmaceutical":    0.6,
		"biotech":           0.6,
		"medical device":    0.8,
		"patient data":      0.7,
		"patient care":      0.6,
		"healthcare ai":     0.9,
		"clinical decision": 0.8,

		// digital health
		"telehealth":               0.8,
		"telemedicine":             0.8,
		"digital health":           0.7,
		"health platform":          0.6,
		"electronic health record": 0.7,
		"ehr":                      0.6,
		"emr":                      0.6,
		"hipaa":                    0.7,
		"health insurance":         0.5,
		"healthcare":               0.4,
		"hospital":                 0.4,
		"physician":                0.5,
		"medical imaging":          0.8,
		"radiology":                0.7,

		// wellness and prevention
		"mental health":     0.6,
		"wellness":          0.4,
		"fitness":           0.3,
		"nutrition":         0.4,
		"health monitoring": 0.5,
		"wearable":          0.4,
	},

	Cleantech: {
		// climate and carbon
		"carbon capture":      0.9,
		"carbon offset":       0.8,
		"carbon credit":       0.8,
		"carbon footprint":    0.7,
		"net zero":            0.8,
		"climate tech":        0.9,
		"climate change":      0.5,
		"decarbonization":     0.9,
		"emissions reduction": 0.8,
		"greenhouse gas":      0.7,

		// renewable energy
		"renewable energy": 0.9,
		"solar energy":     0.8,
		"wind energy":      0.8,
		"battery storage":  0.8,
		"energy storage":   0.8,
		"ev charging":      0.7,
		"electric vehicle": 0.6,
		"clean energy":     0.8,
		"green energy":     0.7,
		"hydrogen fuel":    0.8,

		// sustainability
		"esg":              0.6,
		"sustainability":   0.5,
		"sustainable":      0.4,
		"circular economy": 0.7,
		"waste reduction":  0.6,
		"recycling":        0.4,
		"green":            0.3,
		"eco-friendly":     0.4,

		// adjacent technologies
		"smart grid":          0.7,
		"energy efficiency":   0.6,
		"building efficiency": 0.6,
		"water treatment":     0.6,
		"agtech":              0.5,
		"food tech":           0.5,
	},
}

// negativeKeywords mark sectors the fund does not back; each hit subtracts
// its weight (scaled) from the winning thesis score.
var negativeKeywords = map[string]float64{
	"consumer app": 0.3,
	"social media": 0.5,
	"marketing":    0.3,
	"advertising":  0.3,
	"gaming":       0.4,
	"crypto":       0.4,
	"blockchain":   0.4,
	"nft":          0.5,
	"web3":         0.4,
	"real estate":  0.4,
	"fintech":      0.2,
}
