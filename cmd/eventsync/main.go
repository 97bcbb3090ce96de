// Command eventsync はイベント編集ロックのリアルタイム配信とリマインダー通知を提供するサーバー。
//
// 使い方:
//
//	eventsync [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/eventsync/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
