package web

import (
	"encoding/json"
	"fmt"

	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/util"
)

func GetNodeInfoDiscovery(conf *util.AppConfig) string {
	return fmt.Sprintf(`{
		"links": [
			{
				"rel": "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": "https://%s/nodeinfo/2.0"
			}
		]
	}`, conf.Conf.SslDomain)
}

func GetNodeInfo(conf *util.AppConfig) string {
	database := db.GetDB()

	userCount, err := database.CountLocalAccounts()
	if err != nil {
		userCount = 0
	}
	postCount, err := database.CountLocalStatuses()
	if err != nil {
		postCount = 0
	}

	info := map[string]any{
		"version": "2.0",
		"software": map[string]any{
			"name":    "vireo",
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": map[string]any{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": false,
		"usage": map[string]any{
			"users": map[string]any{
				"total": userCount,
			},
			"localPosts": postCount,
		},
		"metadata": map[string]any{
			"nodeName": conf.Conf.SslDomain,
		},
	}

	jsonBytes, err := json.Marshal(info)
	if err != nil {
		return "{}"
	}
	return string(jsonBytes)
}
