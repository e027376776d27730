package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

type OrderRequest struct {
	OrderNumber        string   `json:"order_number"`
	CustomerId         string   `json:"customer_id"`
	RestaurantId       string   `json:"restaurant_id"`
	RestaurantLocation Location `json:"restaurant_location"`
	DeliveryLocation   Location `json:"delivery_location"`
	PrepTimeMinutes    int      `json:"prep_time_minutes"`
	Priority           int      `json:"priority"`
}

type OrderResponse struct {
	OrderId     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	RiderId     string `json:"rider_id"`
	Message     string `json:"message"`
}

type RiderRequest struct {
	Name            string  `json:"name"`
	Rating          float64 `json:"rating"`
	MaxActiveOrders int     `json:"max_active_orders"`
}

type Rider struct {
	RiderId string `json:"rider_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
}

type Alert struct {
	AlertId  string `json:"alert_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// APIResponse mirrors the dispatcher's utils.Response shape
type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type scenario string

const (
	ScHappy        scenario = "happy_delivery"
	ScNoRider      scenario = "no_rider_backlog"
	ScRiderOffline scenario = "rider_goes_offline"
)

// Restaurant and drop-off anchors, roughly 2km apart.
var (
	restaurantLoc = Location{Latitude: 37.9838, Longitude: 23.7275}
	deliveryLoc   = Location{Latitude: 37.9990, Longitude: 23.7450}
)

func main() {
	rand.New(rand.NewSource(time.Now().UnixNano()))

	baseURL := flag.String("base", envOr("DISPATCHER_BASE", "http://localhost:8080"), "Dispatcher base URL (no trailing slash)")
	total := flag.Int("total", 10, "total number of synthetic orders in burst phase")
	conc := flag.Int("concurrency", 5, "concurrency for burst phase")
	pollTimeout := flag.Duration("timeout", 90*time.Second, "max time to wait per order")
	jitterMax := flag.Duration("jitter", 800*time.Millisecond, "max random jitter between requests in burst phase")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	log.Printf("Base URL: %s", *baseURL)

	runScenario(client, *baseURL, ScHappy, *pollTimeout)
	runScenario(client, *baseURL, ScNoRider, *pollTimeout)
	runScenario(client, *baseURL, ScRiderOffline, *pollTimeout)

	log.Printf("Starting burst test: total=%d concurrency=%d", *total, *conc)
	burst(client, *baseURL, *total, *conc, *pollTimeout, *jitterMax)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runScenario(client *http.Client, base string, sc scenario, timeout time.Duration) {
	switch sc {
	case ScHappy:
		runHappy(client, base, timeout)
	case ScNoRider:
		runNoRider(client, base, timeout)
	case ScRiderOffline:
		runRiderOffline(client, base, timeout)
	}
}

// runHappy registers a rider, places an order and drives the rider
// through pickup and drop-off with a location trace.
func runHappy(client *http.Client, base string, timeout time.Duration) {
	riderId, err := seedRider(client, base, restaurantLoc)
	if err != nil {
		log.Printf("[%s] rider seed failed: %v", ScHappy, err)
		return
	}

	orderId, err := createOrder(client, base, buildOrder(5))
	if err != nil {
		log.Printf("[%s] create failed: %v", ScHappy, err)
		return
	}

	if _, err := waitForStatus(client, base, orderId, timeout, "ASSIGNED"); err != nil {
		log.Printf("[%s] wait for assignment failed: %v", ScHappy, err)
		return
	}

	driveTowards(client, base, riderId, restaurantLoc)
	postStatus(client, base, orderId, "PICKED_UP")
	driveTowards(client, base, riderId, deliveryLoc)
	postStatus(client, base, orderId, "DELIVERED")

	st, err := waitForStatus(client, base, orderId, timeout, "DELIVERED")
	if err != nil {
		log.Printf("[%s] wait failed for %s: %v", ScHappy, orderId, err)
		return
	}
	log.Printf("[%s] result: order_id=%s status=%s rider=%s", ScHappy, orderId, st, riderId)
}

// runNoRider places an order while no rider is available and checks it
// shows up in the unassigned backlog.
func runNoRider(client *http.Client, base string, timeout time.Duration) {
	orderId, err := createOrder(client, base, buildOrder(1))
	if err != nil {
		log.Printf("[%s] create failed: %v", ScNoRider, err)
		return
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		backlog, err := fetchBacklog(client, base)
		if err == nil {
			for _, id := range backlog {
				if id == orderId {
					log.Printf("[%s] result: order_id=%s queued in backlog", ScNoRider, orderId)
					return
				}
			}
		}
		// a leftover rider from an earlier scenario may have taken it
		if st, err := orderStatus(client, base, orderId); err == nil && st == "ASSIGNED" {
			log.Printf("[%s] result: order_id=%s assigned (rider pool not empty)", ScNoRider, orderId)
			return
		}
		time.Sleep(2 * time.Second)
	}
	log.Printf("[%s] order %s never reached backlog nor assignment", ScNoRider, orderId)
}

// runRiderOffline assigns an order, drops the rider offline and checks
// the monitor raises a RIDER_OFFLINE alert.
func runRiderOffline(client *http.Client, base string, timeout time.Duration) {
	riderId, err := seedRider(client, base, restaurantLoc)
	if err != nil {
		log.Printf("[%s] rider seed failed: %v", ScRiderOffline, err)
		return
	}

	orderId, err := createOrder(client, base, buildOrder(3))
	if err != nil {
		log.Printf("[%s] create failed: %v", ScRiderOffline, err)
		return
	}
	if _, err := waitForStatus(client, base, orderId, timeout, "ASSIGNED"); err != nil {
		log.Printf("[%s] wait for assignment failed: %v", ScRiderOffline, err)
		return
	}

	if err := post(client, base, "/api/v1/riders/"+riderId+"/offline", nil); err != nil {
		log.Printf("[%s] offline toggle failed: %v", ScRiderOffline, err)
		return
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		alerts, err := fetchAlerts(client, base, "RIDER_OFFLINE")
		if err == nil && len(alerts) > 0 {
			log.Printf("[%s] result: alert=%s severity=%s", ScRiderOffline, alerts[0].AlertId, alerts[0].Severity)
			return
		}
		time.Sleep(2 * time.Second)
	}
	log.Printf("[%s] no RIDER_OFFLINE alert raised for %s within %s", ScRiderOffline, riderId, timeout)
}

func burst(client *http.Client, base string, total, conc int, timeout, jitterMax time.Duration) {
	var wg sync.WaitGroup
	jobs := make(chan int)

	worker := func() {
		defer wg.Done()
		for range jobs {
			time.Sleep(time.Duration(rand.Int63n(int64(jitterMax))))
			runHappy(client, base, timeout)
		}
	}

	for i := 0; i < conc; i++ {
		wg.Add(1)
		go worker()
	}
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func buildOrder(priority int) OrderRequest {
	return OrderRequest{
		OrderNumber:        "ORD-" + randID(),
		CustomerId:         "cust-" + randID(),
		RestaurantId:       "resto-1",
		RestaurantLocation: restaurantLoc,
		DeliveryLocation:   jitterLoc(deliveryLoc),
		PrepTimeMinutes:    10,
		Priority:           priority,
	}
}

func seedRider(client *http.Client, base string, at Location) (string, error) {
	var rider Rider
	err := postJSON(client, base, "/api/v1/riders", RiderRequest{
		Name:            "rider-" + randID(),
		Rating:          4.0 + rand.Float64(),
		MaxActiveOrders: 2,
	}, &rider)
	if err != nil {
		return "", err
	}
	if err := post(client, base, "/api/v1/riders/"+rider.RiderId+"/online", nil); err != nil {
		return "", err
	}
	ping := map[string]float64{"lat": at.Latitude, "lon": at.Longitude, "accuracy_m": 10}
	if err := post(client, base, "/api/v1/riders/"+rider.RiderId+"/location", ping); err != nil {
		return "", err
	}
	return rider.RiderId, nil
}

// driveTowards streams pings interpolating from a point ~600m out down
// to the target, so the approach and arrival bands both trigger.
func driveTowards(client *http.Client, base, riderId string, target Location) {
	const steps = 6
	start := Location{Latitude: target.Latitude + 0.006, Longitude: target.Longitude}
	for i := 0; i <= steps; i++ {
		frac := float64(i) / steps
		ping := map[string]float64{
			"lat":        start.Latitude + (target.Latitude-start.Latitude)*frac,
			"lon":        start.Longitude + (target.Longitude-start.Longitude)*frac,
			"accuracy_m": 10,
		}
		if err := post(client, base, "/api/v1/riders/"+riderId+"/location", ping); err != nil {
			log.Printf("ping failed for %s: %v", riderId, err)
		}
		time.Sleep(300 * time.Millisecond)
	}
}

func createOrder(client *http.Client, base string, req OrderRequest) (string, error) {
	var or OrderResponse
	if err := postJSON(client, base, "/api/v1/orders", req, &or); err != nil {
		return "", err
	}
	return or.OrderId, nil
}

func postStatus(client *http.Client, base, orderId, status string) {
	if err := post(client, base, "/api/v1/orders/"+orderId+"/status", map[string]string{"status": status}); err != nil {
		log.Printf("status %s failed for %s: %v", status, orderId, err)
	}
}

func orderStatus(client *http.Client, base, id string) (string, error) {
	var or OrderResponse
	if err := getJSON(client, base, "/api/v1/orders/"+id, &or); err != nil {
		return "", err
	}
	return or.Status, nil
}

func fetchBacklog(client *http.Client, base string) ([]string, error) {
	var orders []OrderResponse
	if err := getJSON(client, base, "/api/v1/orders?backlog=true", &orders); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderId)
	}
	return ids, nil
}

func fetchAlerts(client *http.Client, base, alertType string) ([]Alert, error) {
	var alerts []Alert
	if err := getJSON(client, base, "/api/v1/alerts?type="+alertType+"&acknowledged=false", &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func waitForStatus(client *http.Client, base, id string, timeout time.Duration, want string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timeout waiting for order %s to reach %s", id, want)
		case <-ticker.C:
			st, err := orderStatus(client, base, id)
			if err != nil {
				continue
			}
			if st == want || st == "CANCELLED" {
				return st, nil
			}
			// ASSIGNED is passed through on the way to later states
			if want == "ASSIGNED" && (st == "PICKED_UP" || st == "DELIVERED") {
				return st, nil
			}
		}
	}
}

func post(client *http.Client, base, path string, body any) error {
	return postJSON(client, base, path, body, nil)
}

func postJSON(client *http.Client, base, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(http.MethodPost, strings.TrimRight(base, "/")+path, reader)
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req, out)
}

func getJSON(client *http.Client, base, path string, out any) error {
	req, _ := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	var api APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return err
	}
	if !api.Success {
		return fmt.Errorf("api returned success=false: %s", api.Message)
	}
	if out == nil || len(api.Data) == 0 {
		return nil
	}
	return json.Unmarshal(api.Data, out)
}

func jitterLoc(l Location) Location {
	return Location{
		Latitude:  l.Latitude + (rand.Float64()-0.5)*0.004,
		Longitude: l.Longitude + (rand.Float64()-0.5)*0.004,
	}
}

func randID() string { return fmt.Sprintf("%04x", rand.Intn(65536)) }
