package main

import "gemini-chatter/internal/cmd"

func main() {
	cmd.Execute()
}
