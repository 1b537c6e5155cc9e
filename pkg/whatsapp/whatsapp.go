package whatsapp

import (
	"VoicedeskGolang/database/postgres"
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// IEscalationNotifier pushes escalation alerts (failed bookings, emergencies the agent
// could not close) to the company's on-call WhatsApp number.
type IEscalationNotifier interface {
	NotifyEscalation(ctx context.Context, phoneNumber, message string) error
	Disconnect() error
	IsConnected() bool
}

type escalationNotifier struct {
	client *whatsmeow.Client
}

func New() (IEscalationNotifier, error) {
	dsn := postgres.FormatDSN()

	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(context.Background(), "postgres", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	connected := make(chan bool, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connected <- true:
			default:
			}
		}
	})

	if client.Store.ID == nil {
		qrChan, _ := client.GetQRChannel(context.Background())
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					fmt.Println("QR Code:", evt.Code)
				}
			}
		}()
	} else {
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}

		select {
		case <-connected:
		case <-time.After(15 * time.Second):
			return nil, fmt.Errorf("timed out waiting for WhatsApp connection")
		}
	}

	return &escalationNotifier{client: client}, nil
}

func (w *escalationNotifier) NotifyEscalation(ctx context.Context, phoneNumber, message string) error {
	if !w.client.IsConnected() {
		return fmt.Errorf("whatsapp client is not connected")
	}

	jid := types.NewJID(phoneNumber, types.DefaultUserServer)

	_, err := w.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to send escalation alert: %w", err)
	}

	return nil
}

func (w *escalationNotifier) Disconnect() error {
	if w.client != nil {
		w.client.Disconnect()
	}
	return nil
}

func (w *escalationNotifier) IsConnected() bool {
	return w.client != nil && w.client.IsConnected()
}
