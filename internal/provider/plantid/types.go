package plantid

// identificationRequest is the Plant.id v3 identification request body.
// Images are base64 encoded.
type identificationRequest struct {
	Images        []string `json:"images"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	SimilarImages bool     `json:"similar_images"`
}

type identificationResponse struct {
	AccessToken  string `json:"access_token"`
	ModelVersion string `json:"model_version"`
	Result       struct {
		IsPlant        probabilityResult `json:"is_plant"`
		Classification struct {
			Suggestions []suggestion `json:"suggestions"`
		} `json:"classification"`
	} `json:"result"`
}

type healthAssessmentResponse struct {
	AccessToken string `json:"access_token"`
	Result      struct {
		IsHealthy probabilityResult `json:"is_healthy"`
		Disease   struct {
			Suggestions []suggestion `json:"suggestions"`
		} `json:"disease"`
	} `json:"result"`
}

type probabilityResult struct {
	Probability float64 `json:"probability"`
	Binary      bool    `json:"binary"`
}

type suggestion struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Details     struct {
		CommonNames []string `json:"common_names"`
		Description struct {
			Value string `json:"value"`
		} `json:"description"`
	} `json:"details"`
}

type apiError struct {
	Error string `json:"error"`
}
