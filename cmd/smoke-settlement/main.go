// Command smoke-settlement races concurrent payment completions against one
// class offering of a running API and checks that exactly the available seats
// were sold.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type offering struct {
	ID             string `json:"_id"`
	AvailableSeats int64  `json:"availableSeats"`
	TotalEnrolled  int64  `json:"totalEnrolled"`
}

func main() {
	log.SetFlags(0)
	base := os.Getenv("CODELAB_API_URL")
	if base == "" {
		base = "http://localhost:5000"
	}
	var (
		offeringID = flag.String("offering", "demo-last-seat", "class offering id")
		clients    = flag.Int("clients", 8, "concurrent students (keep under the per-IP rate burst)")
		amount     = flag.String("amount", "60.00", "payment amount")
	)
	flag.Parse()

	httpc := &http.Client{Timeout: 10 * time.Second}

	before, err := getOffering(httpc, base, *offeringID)
	if err != nil {
		log.Fatalf("load offering: %v", err)
	}

	tokens := make([]string, *clients)
	for i := range tokens {
		tokens[i], err = issueToken(httpc, base, fmt.Sprintf("smoke-%d-%d@codelab.org", time.Now().UnixNano(), i))
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	start := make(chan struct{})
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			code, err := pay(httpc, base, tok, *offeringID, *amount)
			if err != nil {
				log.Printf("payment: %v", err)
			}
			mu.Lock()
			statuses[code]++
			mu.Unlock()
		}(tok)
	}
	close(start)
	wg.Wait()

	after, err := getOffering(httpc, base, *offeringID)
	if err != nil {
		log.Fatalf("reload offering: %v", err)
	}

	want := min(before.AvailableSeats, int64(*clients))
	got := int64(statuses[http.StatusOK])
	if got != want {
		log.Fatalf("expected %d successful settlements, got %d (statuses %v)", want, got, statuses)
	}
	if int64(statuses[http.StatusConflict]) != int64(*clients)-want {
		log.Fatalf("expected %d seat-exhausted rejections, statuses %v", int64(*clients)-want, statuses)
	}
	if after.AvailableSeats < 0 || after.AvailableSeats+after.TotalEnrolled != before.AvailableSeats+before.TotalEnrolled {
		log.Fatalf("seat conservation failed: before=%+v after=%+v", before, after)
	}

	fmt.Printf("smoke-settlement passed: offering=%s sold=%d rejected=%d seats_left=%d\n",
		*offeringID, got, statuses[http.StatusConflict], after.AvailableSeats)
}

func getOffering(c *http.Client, base, id string) (offering, error) {
	resp, err := c.Get(base + "/classes/" + id)
	if err != nil {
		return offering{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return offering{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var o offering
	return o, json.NewDecoder(resp.Body).Decode(&o)
}

func issueToken(c *http.Client, base, email string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email})
	resp, err := c.Post(base+"/jwt", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func pay(c *http.Client, base, token, offeringID, amount string) (int, error) {
	body, _ := json.Marshal(map[string]string{"classOfferingId": offeringID, "amount": amount})
	req, err := http.NewRequest(http.MethodPost, base+"/payments", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
