// Package classifier is the advisory image-category consistency check run on
// complaint submission. Each supported category has a pre-trained model; the
// actual scoring happens in an external model server, this package only
// decides pass/fail from the top prediction.
package classifier

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
)

// modelFiles maps complaint categories to their trained model assets.
// Categories outside this map have no check available.
var modelFiles = map[string]string{
	"Garbage":          "garbage_model.tflite",
	"Polluted Water":   "water_model.tflite",
	"Pothole":          "pothole_model.tflite",
	"Pipeline Leakage": "pipeline_model.tflite",
}

// confidenceThreshold is the minimum top-1 score for a pass. The comparison
// is strictly greater.
const confidenceThreshold = 0.5

// Classifier verifies that a photo plausibly shows the complaint category.
type Classifier struct {
	modelDir   string
	serverURL  string
	httpClient *http.Client
}

// New creates a classifier backed by the model server at serverURL, using
// model assets from modelDir.
func New(modelDir, serverURL string) *Classifier {
	return &Classifier{
		modelDir:  modelDir,
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Verify checks a photo against the category's model. The result is advisory:
// - categories without a model, or whose model asset is absent, pass
//   unconditionally (no check available);
// - a photo that cannot be decoded fails;
// - otherwise the photo passes iff the model's top prediction scores above
//   the confidence threshold;
// - any scoring failure passes (fail-open) so a broken model server never
//   blocks a citizen from filing.
// The call blocks while the model server scores; callers run it before the
// write and must not proceed until it returns.
func (c *Classifier) Verify(category string, photo []byte) bool {
	modelFile, ok := modelFiles[category]
	if !ok {
		log.Infof("No model for category %q, skipping verification", category)
		return true
	}

	if _, err := os.Stat(filepath.Join(c.modelDir, modelFile)); err != nil {
		log.Infof("Model asset %s not available, skipping verification", modelFile)
		return true
	}

	if _, _, err := image.Decode(bytes.NewReader(photo)); err != nil {
		log.Errorf("Failed to decode photo for category %q: %v", category, err)
		return false
	}

	label, score, err := c.classify(modelFile, photo)
	if err != nil {
		// Fail open: an unverifiable photo is not a failed verification.
		log.Errorf("Classifier error for model %s, allowing submission: %v", modelFile, err)
		return true
	}

	log.Infof("Model %s predicted %q with score %.3f", modelFile, label, score)
	return score > confidenceThreshold
}

type classifyRequest struct {
	Model      string `json:"model"`
	Image      string `json:"image"`
	MaxResults int    `json:"max_results"`
}

type classifyResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// classify sends the photo to the model server and returns the top-1
// prediction.
func (c *Classifier) classify(modelFile string, photo []byte) (string, float64, error) {
	request := classifyRequest{
		Model:      modelFile,
		Image:      base64.StdEncoding.EncodeToString(photo),
		MaxResults: 1,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.serverURL + "/v1/classify"
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to reach model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("model server returned status %d", resp.StatusCode)
	}

	var response classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Label, response.Score, nil
}
