package main

import "github.com/Tutortoise/object-detection-service/cmd"

func main() {
	cmd.Execute()
}
