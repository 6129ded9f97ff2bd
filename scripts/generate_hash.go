//go:build ignore

// generate_hash.go — утилита для генерации Argon2id хеша админского ключа.
// Запуск: go run scripts/generate_hash.go ваш_ключ
//
// Результат вставьте в .env как ADMIN_KEY_HASH.
package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"bintex.app/engine/internal/middleware"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Использование: go run scripts/generate_hash.go <ключ>")
		os.Exit(1)
	}

	key := os.Args[1]
	if len(key) < 16 {
		fmt.Println("Ключ должен быть не короче 16 символов")
		os.Exit(1)
	}

	// Случайная соль (16 байт)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		fmt.Printf("Ошибка генерации соли: %v\n", err)
		os.Exit(1)
	}

	encoded := middleware.HashArgon2id(key, salt)
	if !middleware.VerifyArgon2id(key, encoded) {
		fmt.Println("Самопроверка хеша не прошла")
		os.Exit(1)
	}

	fmt.Println("Хеш ключа (вставьте в .env как ADMIN_KEY_HASH):")
	fmt.Println(encoded)
}
