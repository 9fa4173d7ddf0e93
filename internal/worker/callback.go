package worker

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

var callbackClient = &http.Client{Timeout: 10 * time.Second}

// PostCallback delivers the finished batch to the caller's webhook.
// Delivery is best effort; failures are logged, not retried.
func PostCallback(callbackURL string, status BatchStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		log.Printf("encode batch callback %s: %v", status.BatchID, err)
		return
	}
	resp, err := callbackClient.Post(callbackURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("post batch callback %s: %v", status.BatchID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("batch callback %s got status %d", status.BatchID, resp.StatusCode)
	}
}
