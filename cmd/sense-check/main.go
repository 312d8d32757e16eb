// sense-check is a smoke checker for a running agromind-sense
// instance: health probe, device resolution, a synthetic compact batch
// and a readings query, in that order.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func main() {
	base := flag.String("base", "http://localhost:8080", "base URL of the service")
	apiKey := flag.String("key", "", "ingest API key (enables the ingest probe)")
	token := flag.String("token", "", "bearer token (enables resolve and readings probes)")
	deviceID := flag.String("device", "", "device id for resolve and ingest probes")
	tenantID := flag.String("tenant", "", "tenant id for the readings probe")
	sensorID := flag.String("sensor", "", "sensor id for the readings probe")
	flag.Parse()

	client := resty.New().
		SetBaseURL(*base).
		SetTimeout(10 * time.Second)

	failed := false
	check := func(name string, fn func() error) {
		if err := fn(); err != nil {
			fmt.Printf("FAIL %-10s %v\n", name, err)
			failed = true
			return
		}
		fmt.Printf("ok   %s\n", name)
	}

	check("health", func() error {
		resp, err := client.R().Get("/health")
		if err != nil {
			return err
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("status %d", resp.StatusCode())
		}
		return nil
	})

	if *token != "" && *deviceID != "" {
		check("resolve", func() error {
			resp, err := client.R().
				SetAuthToken(*token).
				Get("/devices/" + *deviceID + "/resolve")
			if err != nil {
				return err
			}
			if resp.StatusCode() != 200 {
				return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
			}
			return nil
		})
	}

	if *apiKey != "" && *deviceID != "" {
		check("ingest", func() error {
			body := map[string]interface{}{
				"id": *deviceID,
				"it": []map[string]interface{}{
					{"t": 2, "s": []int{41}},
				},
			}
			resp, err := client.R().
				SetHeader("X-API-Key", *apiKey).
				SetBody(body).
				Post("/sensors/ingest/" + *deviceID)
			if err != nil {
				return err
			}
			if resp.StatusCode() != 200 {
				return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
			}
			return nil
		})
	}

	if *token != "" && *tenantID != "" && *sensorID != "" {
		check("readings", func() error {
			resp, err := client.R().
				SetAuthToken(*token).
				SetQueryParam("range", "1d").
				Get("/tenants/" + *tenantID + "/sensors/" + *sensorID + "/readings")
			if err != nil {
				return err
			}
			if resp.StatusCode() != 200 {
				return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
			}
			return nil
		})
	}

	if failed {
		os.Exit(1)
	}
}
