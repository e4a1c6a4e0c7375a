package db

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"accesscontrol/internal/domain"

	"github.com/jackc/pgx/v5"
)

// Subscribe opens a dedicated pgx connection that LISTENs for commit
// notices and reads the new rows in position order. The channel is closed
// when ctx ends, the connection fails, or the consumer falls behind by more
// than the buffer.
func (l *Ledger) Subscribe(ctx context.Context, filter domain.NotificationFilter) (<-chan domain.Notification, error) {
	if l.db == nil || l.dsn == "" {
		return nil, errDBUnavailable
	}
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen: %w", err)
	}
	start, err := l.CurrentPosition(ctx)
	if err != nil {
		conn.Close(context.Background())
		return nil, err
	}
	ch := make(chan domain.Notification, l.subBuffer)
	match := domain.NotificationFilter{Types: filter.Types, DeviceID: filter.DeviceID}
	go l.listen(ctx, conn, match, start, ch)
	return ch, nil
}

func (l *Ledger) listen(ctx context.Context, conn *pgx.Conn, filter domain.NotificationFilter, last uint64, ch chan<- domain.Notification) {
	defer close(ch)
	defer conn.Close(context.Background())
	for {
		msg, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("db listener: wait: %v", err)
			}
			return
		}
		head, err := strconv.ParseUint(msg.Payload, 10, 64)
		if err != nil || head <= last {
			continue
		}
		notes, err := l.Query(ctx, domain.NotificationFilter{From: last + 1, To: head})
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("db listener: read (%d,%d]: %v", last, head, err)
			}
			return
		}
		for _, n := range notes {
			last = n.Position
			if !filter.Match(n) {
				continue
			}
			select {
			case ch <- n:
			default:
				log.Printf("db listener: subscriber lagging at position=%d; disconnecting", n.Position)
				return
			}
		}
	}
}
