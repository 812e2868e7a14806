package models

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	RoleSales   = "sales"
	RoleDriver  = "driver"
	RoleDesktop = "desktop"
	RoleSystem  = "system"
)

const (
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionRemove   = "remove"
)

// transitions lists the statuses each action may be applied from.
// An in-progress ride can only complete.
var transitions = map[string][]string{
	ActionStart:    {StatusWaiting},
	ActionComplete: {StatusWaiting, StatusInProgress},
	ActionRemove:   {StatusWaiting},
}

// CanTransition reports whether action is allowed from the given status.
func CanTransition(action, fromStatus string) bool {
	allowed, ok := transitions[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// IsActiveStatus reports whether an entry with this status occupies a position.
func IsActiveStatus(status string) bool {
	return status == StatusWaiting || status == StatusInProgress
}

var statusLabels = map[string]string{
	StatusWaiting:    "Ожидает",
	StatusInProgress: "В поездке",
	StatusCompleted:  "Завершено",
	StatusCancelled:  "Снят",
}

// StatusLabel returns the human-readable status used in sheets and exports.
func StatusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status
}

// IsTerminalStatus reports whether status is absorbing.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

const (
	// DefaultRedisTTL время жизни состояния синхронизации терминала в Redis
	DefaultRedisTTL = 7 * 24 * 60 * 60

	// DefaultConflictRetries число повторов при конфликте версий
	DefaultConflictRetries = 5

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// DesktopSyncRateLimit число синхронизаций терминала в окне
	DesktopSyncRateLimit = 30

	// DesktopSyncRateWindow окно ограничения синхронизаций, секунды
	DesktopSyncRateWindow = 60

	// ExportSheetName имя листа в выгрузке очереди
	ExportSheetName = "Queue"
)
