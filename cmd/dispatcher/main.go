package main

import (
	"context"
	"log"
	"strings"
	"time"

	"delivery-dispatch/cmd/dispatcher/server"
	"delivery-dispatch/pkg/kafka"
	"delivery-dispatch/pkg/utils"
)

func main() {
	port := utils.GetEnv("DISPATCHER_PORT", "8080")
	kafkaBrokers := utils.GetEnv("KAFKA_BROKERS", "kafka:9092")

	sConf := server.ServerConfig{
		Port:         port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	brokers := strings.Split(kafkaBrokers, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	prodConf := kafka.ProducerConfig{
		Brokers: brokers,
	}
	consConf := kafka.ConsumerConfig{
		Brokers: brokers,
		Topics:  []string{kafka.TopicDispatchCommands},
		GroupId: utils.GetEnv("KAFKA_GROUP_ID", "dispatcher"),
	}

	srv, err := server.NewServer(context.Background(), sConf, prodConf, consConf)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
