package websocket

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"fundingarb/internal/bot"
	"fundingarb/internal/models"
)

// Hub реализует bot.WebSocketHub
var _ bot.WebSocketHub = (*Hub)(nil)

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============
// Убирает аллокации при каждом Broadcast (riskUpdate идет каждый тик)

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512)) // начальный размер 512 байт
	},
}

// envelope - сериализованное сообщение с адресатом
//
// Пустой userID означает доставку всем подключенным клиентам.
type envelope struct {
	userID  string
	payload []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для доставки сообщений подключенным клиентам.
// Обеспечивает real-time обновления данных на frontend без polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Маршрутизация сообщений по пользователям (клиент видит только свои данные)
// - Очистка медленных и отключенных соединений
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Типы сообщений:
// - botUpdate: статус бота при изменениях
// - riskUpdate: риск открытых позиций каждый тик мониторинга
// - notification: новое уведомление
// - balanceUpdate: обновление баланса биржи
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastBotUpdate(userID, inst)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Канал исходящих сообщений
	broadcast chan envelope

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки для Run
	done     chan struct{}
	stopOnce sync.Once

	// Lock-free счетчики для метрик и мониторинга
	clientCount atomic.Int64
	dropped     atomic.Int64

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	logger *zap.Logger
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("websocket"),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и доставку сообщений.
//
// Отправка клиентам идет без блокировки register/unregister:
// копируем список под коротким RLock, отправляем без блокировки,
// удаляем медленных клиентов под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientCount.Store(0)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.clientCount.Store(int64(len(h.clients)))
			h.mu.Unlock()
			h.logger.Info("клиент подключен",
				zap.String("user_id", client.userID),
				zap.Int64("total_clients", h.clientCount.Load()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientCount.Store(int64(len(h.clients)))
			h.mu.Unlock()
			h.logger.Info("клиент отключен",
				zap.String("user_id", client.userID),
				zap.Int64("total_clients", h.clientCount.Load()))

		case env := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if env.userID == "" || client.userID == env.userID {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- env.payload:
				default:
					// Клиент не успевает обрабатывать сообщения
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.clientCount.Store(int64(len(h.clients)))
				h.mu.Unlock()
				h.logger.Warn("удалены медленные клиенты",
					zap.Int("removed", len(toRemove)),
					zap.Int64("total_clients", h.clientCount.Load()))
			}
		}
	}
}

// Stop останавливает главный цикл Hub и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast сериализует и отправляет сообщение клиентам пользователя
//
// Пустой userID отправляет всем подключенным клиентам.
// ОПТИМИЗАЦИЯ: использует sync.Pool для буферов (убирает аллокации)
func (h *Hub) Broadcast(userID string, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("ошибка сериализации сообщения", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные (буфер вернётся в пул)
	payload := make([]byte, len(data))
	copy(payload, data)

	jsonBufferPool.Put(buf)

	h.BroadcastRaw(userID, payload)
}

// BroadcastRaw отправляет уже сериализованные данные
//
// Не блокируется при переполнении канала: сообщение отбрасывается,
// счетчик dropped увеличивается. Real-time данные устаревают быстрее,
// чем имеет смысл их буферизовать.
func (h *Hub) BroadcastRaw(userID string, payload []byte) {
	select {
	case h.broadcast <- envelope{userID: userID, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastBotUpdate отправляет обновление статуса бота
func (h *Hub) BroadcastBotUpdate(userID string, inst *models.BotInstance) {
	h.Broadcast(userID, NewBotUpdateMessage(userID, inst))
}

// BroadcastRiskUpdate отправляет риск открытых позиций
func (h *Hub) BroadcastRiskUpdate(userID string, positions []*models.Position) {
	h.Broadcast(userID, NewRiskUpdateMessage(userID, positions))
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(notif.UserID, NewNotificationMessage(notif))
}

// BroadcastBalanceUpdate отправляет обновление баланса биржи
func (h *Hub) BroadcastBalanceUpdate(userID, exchangeName string, balance float64) {
	h.Broadcast(userID, NewBalanceUpdateMessage(userID, exchangeName, balance))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
