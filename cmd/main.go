package main

import "github.com/docfold/docfold/app"

func main() {
	app.Main()
}
