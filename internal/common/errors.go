// Package common — errors.go определяет ошибки движка,
// которые используются во всех модулях.
// Эти ошибки позволяют обработчикам (API, бот) различать типы проблем
// и отдавать клиенту понятный код ответа.
package common

import "errors"

// Ошибки валидации — терминальные для операции, ничего не применяют частично.
var (
	// ErrInsufficientBalance — на основном счёте не хватает средств
	ErrInsufficientBalance = errors.New("недостаточно средств на счёте")
	// ErrUnknownPack — пакета с таким именем нет в каталоге
	ErrUnknownPack = errors.New("неизвестный пакет")
	// ErrPackMismatch — цена или доходность от клиента не совпадает с каталогом
	ErrPackMismatch = errors.New("параметры пакета не совпадают с каталогом")
	// ErrNoSpinsAvailable — нет доступных вращений колеса
	ErrNoSpinsAvailable = errors.New("нет доступных вращений")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrWithdrawalTooSmall — сумма вывода меньше минимальной
	ErrWithdrawalTooSmall = errors.New("сумма вывода меньше минимальной")
)

// Ошибки хранилища
var (
	// ErrConcurrentModification — запись аккаунта изменена параллельно, повторите операцию
	ErrConcurrentModification = errors.New("аккаунт изменён параллельно")
	// ErrStoreUnavailable — хранилище недоступно или попытки исчерпаны
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrNegativeBalance — мутация привела бы к отрицательному балансу
	ErrNegativeBalance = errors.New("баланс не может быть отрицательным")
	// ErrAccountNotFound — аккаунт не найден
	ErrAccountNotFound = errors.New("аккаунт не найден")
	// ErrDuplicateAccount — аккаунт с таким id, кодом или telegram id уже есть
	ErrDuplicateAccount = errors.New("аккаунт уже существует")
)

// Ошибки реферальной сети
var (
	// ErrUnknownReferralCode — реферальный код не найден
	ErrUnknownReferralCode = errors.New("неизвестный реферальный код")
	// ErrReferralCycle — назначение аплайна создало бы цикл
	ErrReferralCycle = errors.New("реферальная цепочка образует цикл")
)

// ErrConfiguration — не задана таблица ставок/тиров/колеса.
// Фатальна для операции, но не для процесса.
var ErrConfiguration = errors.New("ошибка конфигурации")
