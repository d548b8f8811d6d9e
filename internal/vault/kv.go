package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// MountVersion returns the KV version (1 or 2) of mount. The answer is
// remembered per mount; any lookup failure is treated as version 1.
func (c *Client) MountVersion(ctx context.Context, mount string) int {
	mount = strings.Trim(mount, "/")

	c.mountMu.Lock()
	v, ok := c.mountVersions[mount]
	c.mountMu.Unlock()
	if ok {
		return v
	}

	secret, err := c.api.Logical().ReadWithContext(ctx, "sys/internal/ui/mounts/"+mount)
	if err != nil {
		c.logger.Debug("Could not determine KV version of %s, assuming v1: %v", mount, err)
		return 1
	}

	v = 1
	if secret != nil {
		if opts, ok := secret.Data["options"].(map[string]interface{}); ok {
			if version, ok := opts["version"].(string); ok && version == "2" {
				v = 2
			}
		}
	}

	c.mountMu.Lock()
	c.mountVersions[mount] = v
	c.mountMu.Unlock()
	return v
}

// ReadKV reads a secret. version selects a KV v2 version; 0 means latest and
// is ignored on KV v1.
func (c *Client) ReadKV(ctx context.Context, mount, path string, version int) (map[string]interface{}, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	c.logger.Debug("Reading KV secret %s from %s", logging.Secret(path), mount)
	key := mount + "/" + path

	if c.MountVersion(ctx, mount) == 2 {
		kv := c.api.KVv2(mount)
		var (
			secret *api.KVSecret
			err    error
		)
		if version > 0 {
			secret, err = kv.GetVersion(ctx, path, version)
		} else {
			secret, err = kv.Get(ctx, path)
		}
		if err != nil {
			return nil, c.mapError("read", key, err, false)
		}
		return dataOrEmpty(secret.Data), nil
	}

	s, err := c.api.KVv1(mount).Get(ctx, path)
	if err != nil {
		return nil, c.mapError("read", key, err, false)
	}
	return dataOrEmpty(s.Data), nil
}

// ListKV lists the keys under path.
func (c *Client) ListKV(ctx context.Context, mount, path string) ([]string, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	listPath := mount + "/" + strings.TrimPrefix(path, "/")
	if c.MountVersion(ctx, mount) == 2 {
		listPath = mount + "/metadata/" + strings.TrimPrefix(path, "/")
	}

	secret, err := c.api.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, c.mapError("list", listPath, err, false)
	}
	if secret == nil || secret.Data == nil {
		return nil, provider.NotFoundError{Provider: ProviderName, Key: listPath}
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		s, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("vault list %s: unexpected key type %T", listPath, k)
		}
		keys = append(keys, s)
	}
	return keys, nil
}

func dataOrEmpty(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	return data
}
