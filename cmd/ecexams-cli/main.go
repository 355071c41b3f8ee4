package main

import (
	"context"

	"ecexams-crawler/cmd/ecexams-cli/commands"
	"ecexams-crawler/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "ecexams-cli")
	commands.ExecuteContext(context.Background())
}
