// internal/service/coupon/interfaces/payment_consumer_test.go
package interfaces

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

// Stop 与消费循环的停止标志并发读写，-race 下必须干净。
func TestPaymentConsumerStopFlag(t *testing.T) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{"localhost:9092"},
		Topic:     "payment-events",
		Partition: 0,
	})
	a := NewPaymentConsumerAdapter(reader, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// 模拟消费循环对停止标志的轮询
		deadline := time.Now().Add(5 * time.Second)
		for !a.stopped.Load() {
			if time.Now().After(deadline) {
				return
			}
			runtime.Gosched()
		}
	}()

	a.Stop(context.Background())
	wg.Wait()

	assert.True(t, a.stopped.Load())
}
