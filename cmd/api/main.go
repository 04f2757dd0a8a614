package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsboard.org/internal/authz"
	"opsboard.org/internal/httpapi"
	"opsboard.org/internal/obs"
	"opsboard.org/internal/store/pg"
	"opsboard.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("OPSBOARD_PG_DSN")
	if dsn == "" {
		log.Fatal("OPSBOARD_PG_DSN is required")
	}
	secret := os.Getenv("OPSBOARD_AUTH_SECRET")
	if secret == "" {
		log.Fatal("OPSBOARD_AUTH_SECRET is required")
	}
	addr := os.Getenv("OPSBOARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	issuer, err := token.NewIssuer(secret)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	catalog := authz.NewCatalog()
	resolver, err := authz.NewResolver(store, catalog)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	roleSvc, err := authz.NewRoleService(store, catalog, resolver)
	if err != nil {
		log.Fatalf("role service: %v", err)
	}
	userRoleSvc, err := authz.NewUserRoleService(store, store, resolver, issuer)
	if err != nil {
		log.Fatalf("user-role service: %v", err)
	}
	directory, err := authz.NewDirectory(store, resolver)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		ReadyProbe: httpapi.ReadyProbe{DB: store.DB()},
		Version:    version,
		Tokens:     issuer,
		Catalog:    catalog,
		Resolver:   resolver,
		Roles:      roleSvc,
		UserRoles:  userRoleSvc,
		Directory:  directory,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsboard-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
