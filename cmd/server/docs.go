package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           CRM Sync API
// @version         0.1.0
// @description     Pipedrive contact synchronization, conflict-aware updates, and run history.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
