package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/utils"
	"github.com/lithammer/shortuuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const BASEDIR = "hivegrid/registry"
const RESULTSDIR = "hivegrid/results"

// getEtcdKey appends the given id to the logical path of the registry
// Area. Called with an empty string it returns the Area base path.
func (r *Registry) getEtcdKey(id string) string {
	return fmt.Sprintf("%s/%s/%s", BASEDIR, r.Area, id)
}

// RegisterToEtcd registers this node under its Area with a leased key,
// kept alive until the process dies. url is the advertised agent endpoint.
func (r *Registry) RegisterToEtcd(url string) error {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return UnavailableClientErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	id := shortuuid.New() + strconv.FormatInt(time.Now().UnixNano(), 10)
	r.id = id
	r.Key = r.getEtcdKey(id)

	ttl := int64(config.GetInt(config.REGISTRY_TTL, 20))
	resp, err := etcdClient.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	log.Printf("Registration key: %s\n", r.Key)
	_, err = etcdClient.Put(ctx, r.Key, url, clientv3.WithLease(resp.ID))
	if err != nil {
		return IdRegistrationErr
	}

	keepAliveCh, err := etcdClient.KeepAlive(etcdClient.Ctx(), resp.ID)
	if err != nil || keepAliveCh == nil {
		return KeepAliveErr
	}

	go func() {
		// eat messages until the keep alive channel closes
		for range keepAliveCh {
		}
		log.Printf("Keep alive channel for %s closed", r.Key)
	}()

	return nil
}

// GetAll returns the (key, url) pairs of every node registered under this
// Area.
func (r *Registry) GetAll() (map[string]string, error) {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return nil, UnavailableClientErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := etcdClient.Get(ctx, r.getEtcdKey(""), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	servers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		servers[string(kv.Key)] = string(kv.Value)
	}
	return servers, nil
}

// Deregister deletes the key put by RegisterToEtcd.
func (r *Registry) Deregister() error {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return UnavailableClientErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if _, err = etcdClient.Delete(ctx, r.Key); err != nil {
		return err
	}

	log.Println("Deregistered: " + r.id)
	return nil
}

// PublishResult stores a terminal execution result in etcd under a lease,
// so that results survive a coordinator restart and age out on their own.
func PublishResult(executionID string, result interface{}) error {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return UnavailableClientErr
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ttl := int64(config.GetInt(config.RESULT_TTL, 1800))
	lease, err := etcdClient.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s", RESULTSDIR, executionID)
	_, err = etcdClient.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID))
	return err
}

// FetchResult retrieves a published result, if it has not expired.
func FetchResult(executionID string) ([]byte, bool, error) {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return nil, false, UnavailableClientErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := etcdClient.Get(ctx, fmt.Sprintf("%s/%s", RESULTSDIR, executionID))
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}
