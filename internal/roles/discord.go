package roles

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"sai/internal/ledger"
)

const DefaultDiscordApi = "https://discord.com/api/v10"

type DiscordConfig struct {
	ApiBase string
	Token   string
	GuildId string
	// TierRoles maps tier labels to role ids. Keys are matched case-insensitively.
	TierRoles map[string]string
	Timeout   time.Duration
}

type guildMember struct {
	Roles []string `json:"roles"`
}

// Discord assigns tier roles in one guild through the Discord REST API.
type Discord struct {
	client    *resty.Client
	guildId   string
	tierRoles map[string]string
	log       zerolog.Logger
}

var _ Assigner = (*Discord)(nil)

func NewDiscord(conf DiscordConfig, log zerolog.Logger) *Discord {
	base := conf.ApiBase
	if base == "" {
		base = DefaultDiscordApi
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tierRoles := make(map[string]string, len(conf.TierRoles))
	for tier, role := range conf.TierRoles {
		if role != "" {
			tierRoles[strings.ToLower(tier)] = role
		}
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(base, "/")).
		SetHeader("Authorization", "Bot "+conf.Token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Discord{
		client:    client,
		guildId:   conf.GuildId,
		tierRoles: tierRoles,
		log:       log.With().Str("component", "discord").Logger(),
	}
}

func (d *Discord) roleIds() []string {
	ids := make([]string, 0, len(d.tierRoles))
	for _, id := range d.tierRoles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Discord) member(ctx context.Context, accountId string) (*guildMember, error) {
	var m guildMember
	resp, err := d.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"guild": d.guildId, "user": accountId}).
		SetResult(&m).
		Get("/guilds/{guild}/members/{user}")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrMemberNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("discord: get member: %s", resp.Status())
	}
	return &m, nil
}

func (d *Discord) setRole(ctx context.Context, accountId, roleId string, add bool) error {
	req := d.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"guild": d.guildId, "user": accountId, "role": roleId})
	path := "/guilds/{guild}/members/{user}/roles/{role}"
	var (
		resp *resty.Response
		err  error
	)
	if add {
		resp, err = req.Put(path)
	} else {
		resp, err = req.Delete(path)
	}
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusNotFound {
		d.log.Warn().Str("account", accountId).Str("role", roleId).Msg("role or member not found")
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("discord: set role %s: %s", roleId, resp.Status())
	}
	return nil
}

func hasRole(roles []string, id string) bool {
	for _, r := range roles {
		if r == id {
			return true
		}
	}
	return false
}

func (d *Discord) SyncTier(ctx context.Context, accountId, tier string) error {
	target, mapped := d.tierRoles[strings.ToLower(tier)]
	if !mapped && tier != ledger.TierNone {
		d.log.Warn().Str("tier", tier).Msg("no role mapped for tier")
		return nil
	}
	return d.apply(ctx, accountId, target)
}

func (d *Discord) ClearTiers(ctx context.Context, accountId string) error {
	return d.apply(ctx, accountId, "")
}

// apply leaves target as the only tier role of the member. An empty target removes all.
func (d *Discord) apply(ctx context.Context, accountId, target string) error {
	m, err := d.member(ctx, accountId)
	if errors.Is(err, ErrMemberNotFound) {
		d.log.Warn().Str("account", accountId).Msg("member not in guild")
		return nil
	}
	if err != nil {
		return err
	}
	for _, roleId := range d.roleIds() {
		if roleId == target || !hasRole(m.Roles, roleId) {
			continue
		}
		if err := d.setRole(ctx, accountId, roleId, false); err != nil {
			return err
		}
	}
	if target != "" && !hasRole(m.Roles, target) {
		if err := d.setRole(ctx, accountId, target, true); err != nil {
			return err
		}
		d.log.Info().Str("account", accountId).Str("role", target).Msg("tier role assigned")
	}
	return nil
}
