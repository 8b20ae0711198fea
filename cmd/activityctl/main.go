// Command activityctl is the operator CLI for the activity log.
package main

import "github.com/keyxmakerx/activitylog/internal/cli"

func main() {
	cli.Execute()
}
