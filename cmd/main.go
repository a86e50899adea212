package main

import (
	cmd "github.com/FosterG4/mangadex-manga-scrapper/cmd/mangadx"
)

func main() {
	cmd.Execute()
}
