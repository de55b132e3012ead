// Command event-producer replays Concept2 webhook events, one JSON object
// per line, onto the Kafka topic consumed by rowpledge serve.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/rowpledge/internal/webhook"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "concept2-webhooks", "Kafka topic")
	input := flag.String("input", "-", "File of newline-delimited events (- for stdin)")
	rate := flag.Int("rate", 0, "Events per second (0 = unthrottled)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	in := io.Reader(os.Stdin)
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			logger.Error("failed to open input", "path", *input, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}

	var successCount, errorCount, skipped int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			logger.Warn("producer error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tick <-chan time.Time
	if *rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(*rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0

scan:
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		event, err := webhook.Decode([]byte(raw))
		if err != nil {
			skipped++
			logger.Warn("skipping invalid event", "line", line, "error", err)
			continue
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				break scan
			}
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(webhook.ResultKey(event)),
			Value: sarama.ByteEncoder([]byte(raw)),
		}
		select {
		case producer.Input() <- msg:
		case <-ctx.Done():
			break scan
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("failed to read input", "error", err)
	}

	producer.AsyncClose()
	wg.Wait()

	logger.Info("replay completed",
		"sent", atomic.LoadInt64(&successCount),
		"errors", atomic.LoadInt64(&errorCount),
		"skipped", skipped,
	)
	if atomic.LoadInt64(&errorCount) > 0 {
		os.Exit(1)
	}
}
