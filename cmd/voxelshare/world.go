package main

import (
	"context"
	"log"

	"github.com/crystal-mush/voxelshare/pkg/boltstore"
	"github.com/crystal-mush/voxelshare/pkg/config"
	"github.com/crystal-mush/voxelshare/pkg/session"
	"github.com/crystal-mush/voxelshare/pkg/worldfs"
)

// startSession starts a session for conf and seeds it from conf.SeedDir when
// the store holds no world yet.
func startSession(conf *config.Conf, store *boltstore.Store, sharer session.Sharer) (*session.Server, error) {
	sess, err := session.Start(session.Options{
		WorldName:   conf.WorldName,
		WorldFolder: conf.WorldFolder,
		InMemory:    conf.InMemory,
	}, store, sharer)
	if err != nil {
		return nil, err
	}
	if conf.SeedDir != "" && (store == nil || !store.HasData()) {
		n, err := sess.Seed(worldfs.Dir(conf.SeedDir), "/")
		if err != nil {
			sess.Quit(context.Background())
			return nil, err
		}
		log.Printf("Seeded world from %s (%d files)", conf.SeedDir, n)
	}
	return sess, nil
}
