package plantnet

// identifyResponse is the Pl@ntNet v2 identify response envelope.
type identifyResponse struct {
	BestMatch string   `json:"bestMatch"`
	Results   []result `json:"results"`
	Version   string   `json:"version"`
	// RemainingIdentificationRequests mirrors the provider's own daily
	// accounting and is logged for cross-checking local quota counters.
	RemainingIdentificationRequests int `json:"remainingIdentificationRequests"`
}

type result struct {
	Score   float64 `json:"score"`
	Species species `json:"species"`
}

type species struct {
	ScientificNameWithoutAuthor string   `json:"scientificNameWithoutAuthor"`
	ScientificName              string   `json:"scientificName"`
	CommonNames                 []string `json:"commonNames"`
	Genus                       taxon    `json:"genus"`
	Family                      taxon    `json:"family"`
}

type taxon struct {
	ScientificNameWithoutAuthor string `json:"scientificNameWithoutAuthor"`
}

// apiError is the provider's error body for non-2xx responses.
type apiError struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}
