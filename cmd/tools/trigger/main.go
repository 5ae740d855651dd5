package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

type jobStatus struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Duration string         `json:"duration"`
	Result   map[string]any `json:"result"`
	Error    string         `json:"error"`
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	naics := flag.String("naics", "", "comma-separated NAICS codes")
	postedFrom := flag.String("posted-from", "", "YYYY-MM-DD")
	wait := flag.Bool("wait", true, "poll until the job finishes")
	flag.Parse()

	q := url.Values{}
	if *naics != "" {
		q.Set("naics", *naics)
	}
	if *postedFrom != "" {
		q.Set("posted_from", *postedFrom)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(*baseURL+"/api/v1/jobs/ingest?"+q.Encode(), "application/json", nil)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	var started struct {
		JobID string `json:"job_id"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()

	fmt.Printf("Response Status: %s\n", resp.Status)
	if resp.StatusCode != http.StatusAccepted {
		fmt.Println(started.Error)
		os.Exit(1)
	}
	fmt.Printf("Job %s started\n", started.JobID)
	if !*wait {
		return
	}

	for {
		time.Sleep(5 * time.Second)
		st, err := poll(client, *baseURL+"/api/v1/jobs/"+started.JobID)
		if err != nil {
			fmt.Printf("Error polling job: %v\n", err)
			os.Exit(1)
		}
		if st.Status == "running" {
			continue
		}
		fmt.Printf("Job %s %s after %s: %v\n", st.ID, st.Status, st.Duration, st.Result)
		if st.Status != "completed" {
			fmt.Println(st.Error)
			os.Exit(1)
		}
		return
	}
}

func poll(client *http.Client, u string) (*jobStatus, error) {
	resp, err := client.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	var st jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
